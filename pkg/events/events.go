// Package events fans committed ledger events out to external consumers.
package events

import (
	"context"
	"errors"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// Publisher receives the events of each committed block, in emission order.
type Publisher interface {
	Publish(ctx context.Context, height uint64, evs []ledger.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, height uint64, evs []ledger.Event) error

func (f PublisherFunc) Publish(ctx context.Context, height uint64, evs []ledger.Event) error {
	return f(ctx, height, evs)
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, height uint64, evs []ledger.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, height, evs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
