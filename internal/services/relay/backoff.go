package relay

import (
	"math/rand"
	"sync"
	"time"
)

// Rand не обязан быть потокобезопасным: RetrySchedule сериализует вызовы.
type Rand interface {
	Intn(n int) int
}

// RetryConfig: Steps[i] is the delay before retry number i+1, the last step
// repeats for every later retry. A non-positive step takes the default one.
type RetryConfig struct {
	Steps []time.Duration

	// MaxJitter разносит повторы разных событий во времени, 0 выключает разброс.
	MaxJitter time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Steps: []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute},
	}
}

// RetrySchedule decides when a failed alert is offered to the sink again.
type RetrySchedule struct {
	steps  []time.Duration
	jitter time.Duration

	mu sync.Mutex
	r  Rand
}

func NewRetrySchedule(cfg RetryConfig, r Rand) *RetrySchedule {
	def := DefaultRetryConfig().Steps
	steps := cfg.Steps
	if len(steps) == 0 {
		steps = def
	}
	out := make([]time.Duration, len(steps))
	for i, d := range steps {
		if d <= 0 {
			d = def[min(i, len(def)-1)]
		}
		out[i] = d
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RetrySchedule{steps: out, jitter: max(cfg.MaxJitter, 0), r: r}
}

func DefaultRetrySchedule() *RetrySchedule {
	return NewRetrySchedule(DefaultRetryConfig(), nil)
}

// Delay returns the wait before retry number attempt (1-based).
func (s *RetrySchedule) Delay(attempt int32) time.Duration {
	i := int(attempt) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	d := s.steps[i]
	if sec := int(s.jitter.Seconds()); sec > 0 {
		s.mu.Lock()
		n := s.r.Intn(sec + 1)
		s.mu.Unlock()
		d += time.Duration(n) * time.Second
	}
	return d
}
