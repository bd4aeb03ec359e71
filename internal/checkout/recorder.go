package checkout

import (
	"context"

	"llcstack/internal/types"
)

// Recorder receives business metrics from the checkout flow.
type Recorder interface {
	RecordCheckout(ctx context.Context, mode types.CheckoutMode, deferred types.DeferredKind)
	RecordReconcile(ctx context.Context, kind types.DeferredKind, state types.ReconcileState)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordCheckout(context.Context, types.CheckoutMode, types.DeferredKind) {}
func (NoopRecorder) RecordReconcile(context.Context, types.DeferredKind, types.ReconcileState) {}
