package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "carealert_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	ruleEvaluations   *prometheus.CounterVec
	alertsTriggered   *prometheus.CounterVec
	alertsSuppressed  *prometheus.CounterVec
	alertsAcked       prometheus.Counter
	classifierCalls   *prometheus.CounterVec
	classifierLatency *prometheus.HistogramVec
	deliveryAttempts  *prometheus.CounterVec
	deliveryLatency   *prometheus.HistogramVec
	schedulerTick     *prometheus.HistogramVec
)

// Init registers the engine metrics with the default registry. pool may be
// nil; when set, connection pool gauges are exported too.
func Init(pool *pgxpool.Pool) {
	registerOnce.Do(func() {
		ruleEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		alertsTriggered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_triggered_total",
				Help: "Alert instances created by origin",
			},
			[]string{"origin"},
		)
		alertsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Candidates suppressed by the dedup window, by origin",
			},
			[]string{"origin"},
		)
		alertsAcked = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_acknowledged_total",
				Help: "Alert instances acknowledged",
			},
		)
		classifierCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "classifier_requests_total",
				Help: "Classifier requests by backend and result",
			},
			[]string{"backend", "result"},
		)
		classifierLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "classifier_latency_seconds",
				Help:    "Classifier round trip in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		)
		deliveryAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_attempts_total",
				Help: "Delivery send attempts by channel and result",
			},
			[]string{"channel", "result"},
		)
		deliveryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Channel send latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		)
		schedulerTick = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduler_tick_seconds",
				Help:    "Scheduler tick duration by job",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job"},
		)

		prometheus.MustRegister(
			ruleEvaluations,
			alertsTriggered,
			alertsSuppressed,
			alertsAcked,
			classifierCalls,
			classifierLatency,
			deliveryAttempts,
			deliveryLatency,
			schedulerTick,
		)
		if pool != nil {
			registerPoolMetrics(pool)
		}
	})
}

func registerPoolMetrics(pool *pgxpool.Pool) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "db_pool_total_conns",
			Help: "Open connections in the pool",
		}, func() float64 { return float64(pool.Stat().TotalConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "db_pool_acquired_conns",
			Help: "Connections currently acquired",
		}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricPrefix + "db_pool_idle_conns",
			Help: "Idle connections in the pool",
		}, func() float64 { return float64(pool.Stat().IdleConns()) }),
	)
}

// IncRuleEvaluation counts one rule/patient evaluation. outcome is one of
// matched, unmatched, no_snapshot or error.
func IncRuleEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleEvaluations != nil {
		ruleEvaluations.WithLabelValues(outcome).Inc()
	}
}

func AddAlertsTriggered(origin string, n int) {
	if n <= 0 {
		return
	}
	if alertsTriggered != nil {
		alertsTriggered.WithLabelValues(origin).Add(float64(n))
	}
}

func IncAlertSuppressed(origin string) {
	if alertsSuppressed != nil {
		alertsSuppressed.WithLabelValues(origin).Inc()
	}
}

func IncAlertAcknowledged() {
	if alertsAcked != nil {
		alertsAcked.Inc()
	}
}

// ObserveClassifier records one classifier call.
func ObserveClassifier(backend, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if classifierCalls != nil {
		classifierCalls.WithLabelValues(backend, result).Inc()
	}
	if classifierLatency != nil {
		classifierLatency.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// ObserveDelivery records one channel send attempt.
func ObserveDelivery(channel, result string, duration time.Duration) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if deliveryAttempts != nil {
		deliveryAttempts.WithLabelValues(channel, result).Inc()
	}
	if deliveryLatency != nil {
		deliveryLatency.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

func ObserveSchedulerTick(job string, duration time.Duration) {
	if schedulerTick != nil {
		schedulerTick.WithLabelValues(job).Observe(duration.Seconds())
	}
}
