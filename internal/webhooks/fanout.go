package webhooks

import (
	"context"
	"errors"
)

// Sink receives status change events and delivers them in the background.
type Sink interface {
	Dispatch(eventType string, payload map[string]string)
	Close(ctx context.Context) error
}

// Fanout hands every event to each sink in order.
type Fanout []Sink

// Dispatch forwards the event to every sink.
func (f Fanout) Dispatch(eventType string, payload map[string]string) {
	for _, s := range f {
		s.Dispatch(eventType, payload)
	}
}

// Close closes every sink and joins their errors.
func (f Fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
