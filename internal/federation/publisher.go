// Package federation moves entity updates and detonations between
// simulators. It carries semantic payloads only; the engine never sees
// framing or connection state.
package federation

import (
	"context"
	"errors"

	"github.com/signalsfoundry/federation-sim/model"
)

// Publisher sends one entity update to wherever peers read it from.
// core.Engine accepts any Publisher through core.WithPublisher.
type Publisher interface {
	Publish(ctx context.Context, update model.EntityUpdate) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, update model.EntityUpdate) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, update model.EntityUpdate) error {
	return f(ctx, update)
}

// FanOut publishes every update to each of its members in order. A failing
// member does not stop the others; their errors are joined.
type FanOut []Publisher

// Publish implements Publisher.
func (f FanOut) Publish(ctx context.Context, update model.EntityUpdate) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
