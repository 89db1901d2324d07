package pipeline

import (
	"context"
	"time"
)

// Pacer spaces out consecutive replies.
type Pacer interface {
	// Wait blocks until the next reply may be attempted or ctx is done.
	Wait(ctx context.Context) error
}

// FixedPacer waits a constant delay.
type FixedPacer struct {
	Delay time.Duration
}

func (p FixedPacer) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}
