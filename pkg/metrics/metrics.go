// Package metrics exposes Prometheus collectors for the ledger, the keeper
// and the HTTP layer.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"renft/pkg/ledger"
	"renft/pkg/types"
)

const namespace = "renft"

type Metrics struct {
	Registry *prometheus.Registry

	calls        *prometheus.CounterVec
	batchSize    *prometheus.HistogramVec
	events       *prometheus.CounterVec
	fees         *prometheus.CounterVec
	keeperClaims *prometheus.CounterVec
	keeperQueue  prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger entry point calls by operation and outcome code.",
		}, []string{"op", "code"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "batch_items",
			Help:      "Items per ledger call.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed ledger events by kind.",
		}, []string{"kind"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fees_base_units_total",
			Help:      "Platform fees paid to the beneficiary, in token base units.",
		}, []string{"token"}),
		keeperClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "claims_total",
			Help:      "Keeper collateral claim attempts by result.",
		}, []string{"result"}),
		keeperQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "queued_rentals",
			Help:      "Rentals waiting in the keeper due queue.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
	}
	m.Registry.MustRegister(
		m.calls, m.batchSize, m.events, m.fees, m.keeperClaims, m.keeperQueue,
		m.httpRequests, m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// ObserveCall implements ledger.Observer.
func (m *Metrics) ObserveCall(op string, items int, err error) {
	m.calls.WithLabelValues(op, strconv.FormatUint(uint64(types.Code(err)), 10)).Inc()
	if items > 0 {
		m.batchSize.WithLabelValues(op).Observe(float64(items))
	}
}

// OnEvent is a ledger.Listener.
func (m *Metrics) OnEvent(ev ledger.Event) {
	m.events.WithLabelValues(ev.Kind).Inc()
	switch d := ev.Data.(type) {
	case *ledger.Returned:
		m.addFee(d.PaymentToken.Hex(), d.Fee.BigInt())
	case *ledger.CollateralClaimed:
		m.addFee(d.PaymentToken.Hex(), d.Fee.BigInt())
	}
}

func (m *Metrics) addFee(token string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.fees.WithLabelValues(token).Add(f)
}

// KeeperClaim counts one keeper claim attempt. result is "claimed",
// "dropped", "failed" or "deferred".
func (m *Metrics) KeeperClaim(result string) {
	m.keeperClaims.WithLabelValues(result).Inc()
}

func (m *Metrics) KeeperQueue(size int) {
	m.keeperQueue.Set(float64(size))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Gin records request counts and latencies.
func (m *Metrics) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
