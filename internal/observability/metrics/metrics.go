package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking engine.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	workerScanTotal    *prometheus.CounterVec
	externalLatency    *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome code",
		}, []string{"code"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Saga compensation steps by step and result",
		}, []string{"step", "result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment state transitions by event and target state",
		}, []string{"event", "to"}),
		workerScanTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "lifecycle",
			Name:      "scan_items_total",
			Help:      "Appointments visited by lifecycle scans by result",
		}, []string{"scan", "result"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "external_call_seconds",
			Help:      "Latency of calendar and payment gateway calls, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator", "operation", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.compensationsTotal, m.transitionsTotal, m.workerScanTotal, m.externalLatency)
	return m
}

// ObserveBooking counts a finished booking attempt. code is "OK" on success.
func (m *BookingMetrics) ObserveBooking(code string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(code).Inc()
}

func (m *BookingMetrics) ObserveCompensation(step string, err error) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(step, resultLabel(err)).Inc()
}

func (m *BookingMetrics) ObserveTransition(event, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(event, to).Inc()
}

// ObserveScan records one appointment handled by a lifecycle scan. result is
// one of processed, skipped or failed.
func (m *BookingMetrics) ObserveScan(scan, result string) {
	if m == nil {
		return
	}
	m.workerScanTotal.WithLabelValues(scan, result).Inc()
}

func (m *BookingMetrics) ObserveExternalCall(collaborator, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.externalLatency.WithLabelValues(collaborator, operation, resultLabel(err)).Observe(time.Since(started).Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
