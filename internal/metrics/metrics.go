package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentorbook",
			Name:      "reservations_total",
			Help:      "Slot reservation attempts by result.",
		},
		[]string{"result"},
	)

	paymentSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentorbook",
			Name:      "payment_signals_total",
			Help:      "Payment gateway signals by kind and reconciliation outcome.",
		},
		[]string{"kind", "outcome"},
	)

	quotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentorbook",
			Name:      "quota_decisions_total",
			Help:      "Usage quota decisions by feature.",
		},
		[]string{"feature", "decision"},
	)

	bookingsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mentorbook",
			Name:      "bookings_completed_total",
			Help:      "Confirmed bookings promoted to completed.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservations, paymentSignals, quotaDecisions, bookingsCompleted)
	})
}

// IncReservation counts a reservation attempt: granted, conflict or error.
func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

// IncPaymentSignal counts a reconciled gateway signal.
func IncPaymentSignal(kind, outcome string) {
	paymentSignals.WithLabelValues(kind, outcome).Inc()
}

// IncQuotaDecision counts a quota grant or denial for a feature.
func IncQuotaDecision(feature, decision string) {
	quotaDecisions.WithLabelValues(feature, decision).Inc()
}

// IncBookingCompleted counts a session promoted to completed.
func IncBookingCompleted() {
	bookingsCompleted.Inc()
}
