package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики процесса коммита заказа.
type CheckoutMetrics struct {
	// Счётчики исходов
	commitsTotal   prometheus.Counter
	commitFailures *prometheus.CounterVec
	oversellDenied prometheus.Counter

	// Retry-петля условных декрементов
	casRetries  prometheus.Counter
	casAttempts prometheus.Histogram

	// Гистограмма времени коммита
	commitDuration prometheus.Histogram

	// Счётчик событий outbox
	outboxEvents prometheus.Counter

	// Gauge для коммитов в процессе
	activeCommits prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик коммита.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		commitsTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopfront_checkout_commits_total",
			Help: "Total number of order commits completed successfully",
		}),
		commitFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopfront_checkout_failures_total",
			Help: "Total number of order commits failed, by reason",
		}, []string{"reason"}),
		oversellDenied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopfront_checkout_oversell_rejections_total",
			Help: "Total number of commits rejected due to insufficient stock",
		}),
		casRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopfront_checkout_cas_retries_total",
			Help: "Total number of stock CAS conflicts that triggered a retry",
		}),
		casAttempts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopfront_checkout_cas_attempts",
			Help:    "Number of CAS attempts consumed per commit",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopfront_checkout_duration_seconds",
			Help:    "Duration of order commits in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopfront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeCommits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shopfront_checkout_active_commits",
			Help: "Number of order commits currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCommitStarted увеличивает количество активных коммитов.
func (m *CheckoutMetrics) RecordCommitStarted() {
	m.activeCommits.Inc()
}

// RecordCommitFinished уменьшает количество активных коммитов.
func (m *CheckoutMetrics) RecordCommitFinished() {
	m.activeCommits.Dec()
}

// RecordCommitCompleted увеличивает счётчик успешных коммитов.
func (m *CheckoutMetrics) RecordCommitCompleted() {
	m.commitsTotal.Inc()
}

// RecordCommitFailed увеличивает счётчик неудачных коммитов по причине.
func (m *CheckoutMetrics) RecordCommitFailed(reason string) {
	m.commitFailures.WithLabelValues(reason).Inc()
}

// RecordOversellRejected увеличивает счётчик отказов из-за нехватки остатка.
func (m *CheckoutMetrics) RecordOversellRejected() {
	m.oversellDenied.Inc()
}

// RecordCASRetry увеличивает счётчик конфликтов условного декремента.
func (m *CheckoutMetrics) RecordCASRetry() {
	m.casRetries.Inc()
}

// RecordCASAttempts записывает число попыток, потраченных на коммит.
func (m *CheckoutMetrics) RecordCASAttempts(attempts int) {
	m.casAttempts.Observe(float64(attempts))
}

// RecordCommitDuration записывает время выполнения коммита.
func (m *CheckoutMetrics) RecordCommitDuration(duration time.Duration) {
	m.commitDuration.Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
