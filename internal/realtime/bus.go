package realtime

import (
	"context"
)

// Bus fans events out to OTHER API instances; the hub handles its own
// local sessions directly. Exclude is a session id that must not receive
// the event; session ids are random UUIDs, so the exclusion is safe to
// ship across instances.
type Bus interface {
	Publish(ctx context.Context, channel string, event Event, exclude string) error
	// Subscribe blocks, invoking handler for every remote event until
	// ctx ends.
	Subscribe(ctx context.Context, handler func(channel string, event Event, exclude string)) error
}

type localBus struct{}

// NewLocalBus is the single-instance bus: there are no other instances,
// so publishing is a no-op and subscribing just blocks.
func NewLocalBus() Bus {
	return localBus{}
}

func (localBus) Publish(context.Context, string, Event, string) error {
	return nil
}

func (localBus) Subscribe(ctx context.Context, _ func(channel string, event Event, exclude string)) error {
	<-ctx.Done()
	return ctx.Err()
}
