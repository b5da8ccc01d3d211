package sink

import (
	"context"
	"log"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

type LoggingSink struct {
	logger *log.Logger
}

func NewLoggingSink(logger *log.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Name() string {
	return "logging"
}

func (s *LoggingSink) Handle(_ context.Context, evt event.Event) error {
	s.logger.Printf("event=%s session_id=%s turn_id=%s", evt.Type, evt.SessionID, evt.TurnID)
	return nil
}
