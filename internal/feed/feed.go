// Package feed delivers upstream notifications to a handler.
package feed

import (
	"context"

	"github.com/seantiz/xxfunc/internal/model"
)

// Handler processes one notification. A returned error is logged by the
// source; it does not stop the feed.
type Handler func(ctx context.Context, n *model.Notification) error

// Source produces notifications until its context ends.
type Source interface {
	// Run blocks, calling h for every notification received. It returns nil
	// once ctx is done, or an error if the source cannot continue.
	Run(ctx context.Context, h Handler) error
}

// SourceFunc adapts an ordinary function to the Source interface.
type SourceFunc func(ctx context.Context, h Handler) error

// Run calls f(ctx, h).
func (f SourceFunc) Run(ctx context.Context, h Handler) error {
	return f(ctx, h)
}
