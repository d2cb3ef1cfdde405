package metrics

import (
	"sync"
	"time"

	"movingmen/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movingmen",
			Name:      "booking_operations_total",
			Help:      "Count of completed booking operations by type.",
		},
		[]string{"op"},
	)

	bookingWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movingmen",
			Name:      "booking_warnings_total",
			Help:      "Count of booking operations that completed with a best-effort step failing.",
		},
		[]string{"op"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movingmen",
			Name:      "store_errors_total",
			Help:      "Count of failed calls to the record and calendar stores.",
		},
		[]string{"store", "op"},
	)

	googleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "movingmen",
			Name:      "google_request_duration_seconds",
			Help:      "Latency of Google Sheets and Calendar API calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"api", "method"},
	)

	sessionFailover = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "movingmen",
			Name:      "session_store_failover_total",
			Help:      "Count of session operations served by the in-memory fallback.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingOps, bookingWarnings, storeErrors, googleLatency, sessionFailover)
	})
}

func IncBookingOp(op string) {
	bookingOps.WithLabelValues(op).Inc()
}

func IncBookingWarning(op string) {
	bookingWarnings.WithLabelValues(op).Inc()
}

func IncSessionFailover() {
	sessionFailover.Inc()
}

// ObserveGoogleCall records the latency of one API call and counts it as a
// store error when err is set.
func ObserveGoogleCall(api, method string, started time.Time, err error) {
	googleLatency.WithLabelValues(api, method).Observe(time.Since(started).Seconds())
	if err != nil {
		storeErrors.WithLabelValues(api, method).Inc()
	}
}

type bookingPayload struct {
	Warning string `json:"warning"`
}

// SubscribeBookingEvents counts booking.* events published on bus.
func SubscribeBookingEvents(bus *events.EventBus, eventOps map[string]string) {
	for eventType, op := range eventOps {
		op := op
		bus.Subscribe(eventType, func(e events.Event) error {
			IncBookingOp(op)
			var p bookingPayload
			if err := e.Decode(&p); err != nil {
				return err
			}
			if p.Warning != "" {
				IncBookingWarning(op)
			}
			return nil
		})
	}
}
