package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

func main() {
	app := mustBootstrapJourneyAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("journey-api stopped", "error", err.Error())
		panic(err)
	}
}
