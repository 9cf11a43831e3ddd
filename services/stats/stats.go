package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters shared by the engine and the channel services. They register
// on the default prometheus registry and are exposed by this service
// under /nightcall/v1/metrics.
var (
	AlertsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightcall_alerts_raised_total",
		Help: "Total number of alerts raised",
	})
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightcall_escalations_total",
		Help: "Total number of escalation level transitions",
	})
	AlertsAcknowledged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightcall_alerts_acknowledged_total",
		Help: "Total number of alerts acknowledged, by acknowledgement path",
	}, []string{"path"})
	AlertsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nightcall_alerts_exhausted_total",
		Help: "Total number of alerts that ran out of escalation levels",
	})
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightcall_notifications_total",
		Help: "Total number of notifications delivered, by channel",
	}, []string{"channel"})
	NotificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nightcall_notification_errors_total",
		Help: "Total number of notification delivery failures, by channel",
	}, []string{"channel"})
	PendingAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nightcall_alerts_pending",
		Help: "Number of alerts currently escalating",
	})
)
