// Package notify delivers pipeline events to subscribers.
package notify

import (
	"context"
	"errors"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
)

// Fanout delivers each event to every notifier in order. A failing notifier
// does not stop delivery to the rest.
type Fanout []pipeline.Notifier

// Notify implements pipeline.Notifier.
func (f Fanout) Notify(ctx context.Context, event pipeline.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ pipeline.Notifier = Fanout(nil)
