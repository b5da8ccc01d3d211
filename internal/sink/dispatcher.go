package sink

import (
	"context"
	"log"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

type Dispatcher struct {
	logger       *log.Logger
	sinks        []Sink
	retryCount   int
	retryBackoff time.Duration
}

func NewDispatcher(logger *log.Logger, sinks []Sink) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		sinks:        sinks,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt event.Event) {
	for _, sink := range d.sinks {
		s := sink
		go d.dispatchOne(ctx, s, evt)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sink Sink, evt event.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sink.Handle(ctx, evt)
		if err == nil {
			return
		}

		d.logger.Printf("sink=%s event=%s session_id=%s attempt=%d err=%v", sink.Name(), evt.Type, evt.SessionID, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
