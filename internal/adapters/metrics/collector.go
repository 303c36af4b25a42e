// Package metrics exposes memo store and driver counters to Prometheus.
package metrics

import (
	"github.com/bnema/pagerun/internal/application"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagerun"

// MemoSource and DriverSource are satisfied by *application.MemoStore and
// *application.Driver.
type MemoSource interface {
	Stats() application.MemoStats
}

type DriverSource interface {
	Stats() application.DriverStats
}

// Collector reads the counters at scrape time, so nothing in the hot path
// touches Prometheus types.
type Collector struct {
	memo   MemoSource
	driver DriverSource

	memoHits         *prometheus.Desc
	memoMisses       *prometheus.Desc
	memoComputations *prometheus.Desc
	memoFailures     *prometheus.Desc
	memoEntries      *prometheus.Desc
	runs             *prometheus.Desc
	sessions         *prometheus.Desc
	running          *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(memo MemoSource, driver DriverSource) *Collector {
	return &Collector{
		memo:   memo,
		driver: driver,
		memoHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memo", "hits_total"),
			"Memo lookups answered from the cache.", nil, nil),
		memoMisses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memo", "misses_total"),
			"Memo lookups that had to wait for a computation.", nil, nil),
		memoComputations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memo", "computations_total"),
			"Compute functions actually invoked.", nil, nil),
		memoFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memo", "failures_total"),
			"Compute functions that returned an error or panicked.", nil, nil),
		memoEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "memo", "entries"),
			"Live memo entries.", nil, nil),
		runs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", "runs_total"),
			"Page runs by final status.", []string{"status"}, nil),
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", "sessions"),
			"Sessions the driver has seen.", nil, nil),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", "running_sessions"),
			"Sessions with a run in progress.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memoHits
	ch <- c.memoMisses
	ch <- c.memoComputations
	ch <- c.memoFailures
	ch <- c.memoEntries
	ch <- c.runs
	ch <- c.sessions
	ch <- c.running
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.memo != nil {
		stats := c.memo.Stats()
		ch <- prometheus.MustNewConstMetric(c.memoHits, prometheus.CounterValue, float64(stats.Hits))
		ch <- prometheus.MustNewConstMetric(c.memoMisses, prometheus.CounterValue, float64(stats.Misses))
		ch <- prometheus.MustNewConstMetric(c.memoComputations, prometheus.CounterValue, float64(stats.Computations))
		ch <- prometheus.MustNewConstMetric(c.memoFailures, prometheus.CounterValue, float64(stats.Failures))
		ch <- prometheus.MustNewConstMetric(c.memoEntries, prometheus.GaugeValue, float64(stats.Entries))
	}

	if c.driver != nil {
		stats := c.driver.Stats()
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(stats.Completed), "completed")
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(stats.Abandoned), "abandoned")
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(stats.Failed), "failed")
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(stats.Sessions))
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(stats.Running))
	}
}

// NewRegistry returns a fresh registry holding only c.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return reg, nil
}
