// Package sink delivers session envelope events to external consumers.
// Sinks are fire-and-forget: a failing sink is retried a few times and
// then dropped, never blocking the session that produced the event.
package sink

import (
	"context"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

type Sink interface {
	Name() string
	Handle(context.Context, event.Event) error
}
