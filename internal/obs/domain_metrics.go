package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSessionTotal counts checkout session creation outcomes.
	PaymentSessionTotal *prometheus.CounterVec
	// ConfirmationTotal counts confirmation intake outcomes.
	ConfirmationTotal *prometheus.CounterVec
	// DecisionTotal counts resolver outcomes per action.
	DecisionTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// NotificationTotal counts outbound chat notification outcomes.
	NotificationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of checkout session creation outcomes.",
		}, []string{"provider", "method", "result"})
		ConfirmationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmation_total",
			Help:      "Count of confirmation intake outcomes.",
		}, []string{"result"})
		DecisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_decision_total",
			Help:      "Count of resolver outcomes per action.",
		}, []string{"action", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"result"})
		NotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_total",
			Help:      "Count of outbound chat notification outcomes.",
		}, []string{"kind", "result"})

		reg.MustRegister(
			PaymentSessionTotal,
			ConfirmationTotal,
			DecisionTotal,
			PaymentWebhookTotal,
			NotificationTotal,
		)
	})
}
