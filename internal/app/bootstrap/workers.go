package bootstrap

import (
	lifecycleworker "github.com/wolfman30/salon-booking-engine/internal/worker/lifecycle"
)

// BuildLifecycleWorker configures the hold-expiry, confirmation and
// reply-timeout scans against the engine's store and coordinator.
func BuildLifecycleWorker(e *Engine) *lifecycleworker.Worker {
	cfg := e.Config
	return lifecycleworker.New(e.Store, e.Coordinator, e.Logger).
		WithInterval(cfg.WorkerInterval).
		WithBatchSize(cfg.WorkerBatchSize).
		WithConfirmationWindow(cfg.ConfirmationLead, cfg.ConfirmationTolerance).
		WithReplyWindow(cfg.ReplyWindow).
		WithMetrics(e.Metrics)
}
