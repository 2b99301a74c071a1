// Package metrics exports jwkclient refresh and validation outcomes to
// Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements jwkclient.Observer. One Collector can serve several
// clients; the source label tells them apart when set.
type Collector struct {
	Refreshes        *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	CachedKeys       prometheus.Gauge
	Validations      *prometheus.CounterVec
	LastRefreshEpoch *prometheus.GaugeVec
}

var _ jwkclient.Observer = (*Collector)(nil)

// New builds an unregistered collector. namespace defaults to "jwkclient".
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "jwkclient"
	}
	return &Collector{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Key set refreshes by kind and result.",
		}, []string{"kind", "result"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching and parsing the key set.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		CachedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_keys",
			Help:      "Keys held after the last successful refresh.",
		}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Token validations by result and whether a reactive refresh ran.",
		}, []string{"result", "retried"}),
		LastRefreshEpoch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh by kind.",
		}, []string{"kind"}),
	}
}

// Register adds the collector's metrics to reg (the default registerer when
// nil). Metrics that are already registered are left alone.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, m := range []prometheus.Collector{c.Refreshes, c.RefreshDuration, c.CachedKeys, c.Validations, c.LastRefreshEpoch} {
		if err := reg.Register(m); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (c *Collector) RefreshCompleted(kind jwkclient.RefreshKind, keys int, took time.Duration, err error) {
	c.Refreshes.WithLabelValues(kind.String(), result(err)).Inc()
	c.RefreshDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
	if err != nil {
		return
	}
	c.CachedKeys.Set(float64(keys))
	c.LastRefreshEpoch.WithLabelValues(kind.String()).Set(float64(time.Now().Unix()))
}

func (c *Collector) ValidationCompleted(retried bool, err error) {
	c.Validations.WithLabelValues(result(err), strconv.FormatBool(retried)).Inc()
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return jwkclient.KindOf(err).String()
}
