// Package notifier delivers "session completed" events to the reporting side.
package notifier

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// Notifier is one delivery channel for completion events.
type Notifier interface {
	NotifyCompleted(ctx context.Context, ev model.CompletionEvent) error
}

// Fanout delivers to every notifier and joins their errors. One failing
// channel does not stop the others.
type Fanout []Notifier

// NotifyCompleted implements Notifier.
func (f Fanout) NotifyCompleted(ctx context.Context, ev model.CompletionEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.NotifyCompleted(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
