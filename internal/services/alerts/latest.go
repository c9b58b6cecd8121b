package alerts

import (
	"sync"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
)

// Latest is a one-slot mailbox: an unconsumed alert is replaced by a newer one,
// so a slow reader never blocks the producer.
type Latest struct {
	mu      sync.Mutex
	ch      chan messages.JourneyAlert
	closed  bool
	dropped int64
}

func NewLatest() *Latest {
	return &Latest{ch: make(chan messages.JourneyAlert, 1)}
}

// Offer never blocks. It returns false if the mailbox is closed.
func (l *Latest) Offer(a messages.JourneyAlert) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	for {
		select {
		case l.ch <- a:
			return true
		default:
		}
		// Слот занят: выкидываем старое событие и пробуем снова.
		select {
		case <-l.ch:
			l.dropped++
		default:
		}
	}
}

func (l *Latest) C() <-chan messages.JourneyAlert { return l.ch }

// Dropped returns how many alerts were replaced before being read.
func (l *Latest) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Latest) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}
