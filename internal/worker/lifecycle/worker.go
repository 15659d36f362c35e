// Package lifecycleworker drives the time-based appointment transitions:
// unpaid holds expire, confirmation requests go out ahead of the visit,
// unanswered requests are cancelled and leftover calendar holds are released.
package lifecycleworker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-booking-engine/internal/appointments"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

var workerTracer = otel.Tracer("salon.internal.worker.lifecycle")

const (
	ScanHoldExpiry    = "hold_expiry"
	ScanConfirmation  = "confirmation"
	ScanReplyTimeout  = "reply_timeout"
	ScanCalendarClean = "calendar_release"
)

type appointmentLister interface {
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]appointments.Appointment, error)
	ListConfirmationDue(ctx context.Context, startFrom, startTo time.Time, limit int) ([]appointments.Appointment, error)
	ListReplyOverdue(ctx context.Context, requestedBefore time.Time, limit int) ([]appointments.Appointment, error)
	ListUnreleasedHolds(ctx context.Context, limit int) ([]appointments.Appointment, error)
}

// lifecycle is implemented by booking.Coordinator.
type lifecycle interface {
	Transition(ctx context.Context, id uuid.UUID, ev appointments.Event, reason string, kind events.NotificationKind) (*appointments.Appointment, error)
	Release(ctx context.Context, a *appointments.Appointment) error
}

// ScanResult counts what one scan did with the appointments it fetched.
type ScanResult struct {
	Processed int
	Skipped   int
	Failed    int
}

// Report is the outcome of one pass over every scan.
type Report map[string]ScanResult

// Worker runs the scans on a fixed interval.
type Worker struct {
	store     appointmentLister
	lifecycle lifecycle
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
	now       func() time.Time

	interval         time.Duration
	batch            int
	confirmationLead time.Duration
	tolerance        time.Duration
	replyWindow      time.Duration
}

func New(store appointmentLister, lc lifecycle, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:            store,
		lifecycle:        lc,
		logger:           logger,
		now:              time.Now,
		interval:         time.Minute,
		batch:            50,
		confirmationLead: 48 * time.Hour,
		tolerance:        time.Hour,
		replyWindow:      24 * time.Hour,
	}
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batch = n
	}
	return w
}

// WithConfirmationWindow requests confirmation for appointments starting
// within lead±tolerance of now.
func (w *Worker) WithConfirmationWindow(lead, tolerance time.Duration) *Worker {
	if lead > 0 {
		w.confirmationLead = lead
	}
	if tolerance >= 0 {
		w.tolerance = tolerance
	}
	return w
}

// WithReplyWindow must match the window the coordinator guards replies with.
func (w *Worker) WithReplyWindow(d time.Duration) *Worker {
	if d > 0 {
		w.replyWindow = d
	}
	return w
}

func (w *Worker) WithMetrics(m *metrics.BookingMetrics) *Worker {
	w.metrics = m
	return w
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	if now != nil {
		w.now = now
	}
	return w
}

// Run scans immediately and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs every scan a single time, one batch each.
func (w *Worker) RunOnce(ctx context.Context) Report {
	report := Report{
		ScanHoldExpiry:    w.scanExpiredHolds(ctx),
		ScanConfirmation:  w.scanConfirmationDue(ctx),
		ScanReplyTimeout:  w.scanReplyOverdue(ctx),
		ScanCalendarClean: w.scanUnreleased(ctx),
	}
	for scan, res := range report {
		if res.Processed+res.Skipped+res.Failed == 0 {
			continue
		}
		w.logger.Info("lifecycle scan finished", "scan", scan, "processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed)
	}
	return report
}

func (w *Worker) scanExpiredHolds(ctx context.Context) ScanResult {
	now := w.now()
	return w.scan(ctx, ScanHoldExpiry, func(ctx context.Context) ([]appointments.Appointment, error) {
		return w.store.ListExpiredHolds(ctx, now, w.batch)
	}, func(ctx context.Context, a appointments.Appointment) error {
		updated, err := w.lifecycle.Transition(ctx, a.ID, appointments.EventHoldExpired, "", events.NotificationHoldExpired)
		if err != nil {
			return err
		}
		w.release(ctx, updated)
		return nil
	})
}

func (w *Worker) scanConfirmationDue(ctx context.Context) ScanResult {
	now := w.now()
	from := now.Add(w.confirmationLead - w.tolerance)
	to := now.Add(w.confirmationLead + w.tolerance)
	return w.scan(ctx, ScanConfirmation, func(ctx context.Context) ([]appointments.Appointment, error) {
		return w.store.ListConfirmationDue(ctx, from, to, w.batch)
	}, func(ctx context.Context, a appointments.Appointment) error {
		_, err := w.lifecycle.Transition(ctx, a.ID, appointments.EventConfirmationRequested, "", events.NotificationConfirmationRequested)
		return err
	})
}

func (w *Worker) scanReplyOverdue(ctx context.Context) ScanResult {
	cutoff := w.now().Add(-w.replyWindow)
	return w.scan(ctx, ScanReplyTimeout, func(ctx context.Context) ([]appointments.Appointment, error) {
		return w.store.ListReplyOverdue(ctx, cutoff, w.batch)
	}, func(ctx context.Context, a appointments.Appointment) error {
		updated, err := w.lifecycle.Transition(ctx, a.ID, appointments.EventReplyTimeout, "no_reply", events.NotificationCancelledNoReply)
		if err != nil {
			return err
		}
		w.release(ctx, updated)
		return nil
	})
}

func (w *Worker) scanUnreleased(ctx context.Context) ScanResult {
	return w.scan(ctx, ScanCalendarClean, func(ctx context.Context) ([]appointments.Appointment, error) {
		return w.store.ListUnreleasedHolds(ctx, w.batch)
	}, func(ctx context.Context, a appointments.Appointment) error {
		return w.lifecycle.Release(ctx, &a)
	})
}

// release is best effort; the calendar release scan retries what fails here.
func (w *Worker) release(ctx context.Context, a *appointments.Appointment) {
	if err := w.lifecycle.Release(ctx, a); err != nil {
		w.logger.Warn("release after transition failed", "appointment_id", a.ID.String(), "error", err)
	}
}

func (w *Worker) scan(ctx context.Context, name string, fetch func(context.Context) ([]appointments.Appointment, error), handle func(context.Context, appointments.Appointment) error) ScanResult {
	ctx, span := workerTracer.Start(ctx, "lifecycle."+name)
	defer span.End()

	var res ScanResult
	items, err := fetch(ctx)
	if err != nil {
		span.RecordError(err)
		w.logger.Error("lifecycle scan fetch failed", "scan", name, "error", err)
		return res
	}
	for _, a := range items {
		if ctx.Err() != nil {
			break
		}
		err := handle(ctx, a)
		switch {
		case err == nil:
			res.Processed++
			w.metrics.ObserveScan(name, "processed")
		case lostRace(err):
			res.Skipped++
			w.metrics.ObserveScan(name, "skipped")
			w.logger.Debug("appointment changed underneath scan", "scan", name, "appointment_id", a.ID.String(), "reason", err.Error())
		default:
			res.Failed++
			w.metrics.ObserveScan(name, "failed")
			w.logger.Error("lifecycle scan item failed", "scan", name, "appointment_id", a.ID.String(), "error", err)
		}
	}
	span.SetAttributes(
		attribute.Int("lifecycle.fetched", len(items)),
		attribute.Int("lifecycle.processed", res.Processed),
		attribute.Int("lifecycle.skipped", res.Skipped),
		attribute.Int("lifecycle.failed", res.Failed),
	)
	return res
}

// lostRace reports whether the row moved on between the list query and the
// locked re-check.
func lostRace(err error) bool {
	var te *appointments.TransitionError
	return errors.As(err, &te) || errors.Is(err, appointments.ErrNotFound)
}
