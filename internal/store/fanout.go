package store

import (
	"errors"

	"github.com/theirongolddev/ccmeter/internal/engine"
	"github.com/theirongolddev/ccmeter/internal/model"
)

// Fanout delivers every record to each sink in order. A failing sink does
// not stop the others; all errors are joined.
type Fanout []engine.Sink

// Append implements engine.Sink.
func (f Fanout) Append(c model.APICall) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Append(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEvent implements engine.Sink.
func (f Fanout) LogEvent(sessionID string, entry map[string]any) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.LogEvent(sessionID, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
