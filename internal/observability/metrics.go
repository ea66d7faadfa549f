package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferdesk_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// RequestTransitions counts lifecycle transitions by type and outcome.
	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferdesk_request_transitions_total",
		Help: "Total transfer request lifecycle transitions by transition and outcome",
	}, []string{"transition", "outcome"})

	// TokenVerifications counts action-token verification results.
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferdesk_token_verifications_total",
		Help: "Total action-token verifications by result",
	}, []string{"result"})

	// NotificationsDispatched counts dispatcher outcomes by template.
	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferdesk_notifications_dispatched_total",
		Help: "Total notification dispatch attempts by template and outcome",
	}, []string{"template", "outcome"})
)
