package dispatch

import "context"

// Yielder hands back a shared resource while a run waits on the user and
// takes it again before the run continues.
type Yielder interface {
	Yield()
	Reclaim(ctx context.Context) error
}

type yielderKey struct{}

// WithYielder attaches y to ctx. Send yields it while a question is pending
// and reclaims it before escalating to the agent.
func WithYielder(ctx context.Context, y Yielder) context.Context {
	return context.WithValue(ctx, yielderKey{}, y)
}

func yielderFrom(ctx context.Context) Yielder {
	if y, ok := ctx.Value(yielderKey{}).(Yielder); ok && y != nil {
		return y
	}
	return noYield{}
}

type noYield struct{}

func (noYield) Yield()                            {}
func (noYield) Reclaim(ctx context.Context) error { return nil }
