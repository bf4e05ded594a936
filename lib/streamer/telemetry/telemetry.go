// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exports streaming stack statistics to Prometheus.
//
// Each scrape queues a ReportLive request and waits for it, so the
// values are collected on the scheduler goroutine and are consistent
// with each other. String statistics are skipped. Times are exported
// in seconds; every other kind is exported in its base unit.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
)

// DefaultScrapeTimeout bounds how long Collect waits for the report.
const DefaultScrapeTimeout = 2 * time.Second

var labels = []string{"owner", "name", "kind"}

// Collector is a prometheus.Collector over a Scheduler's live report.
type Collector struct {
	scheduler *streamer.Scheduler
	timeout   time.Duration
	logger    *slog.Logger

	value   *prometheus.Desc
	minimum *prometheus.Desc
	maximum *prometheus.Desc
	up      *prometheus.Desc
}

// NewCollector returns a collector for scheduler. namespace prefixes
// the metric names; a zero timeout means DefaultScrapeTimeout.
func NewCollector(scheduler *streamer.Scheduler, namespace string, timeout time.Duration, logger *slog.Logger) *Collector {
	if timeout <= 0 {
		timeout = DefaultScrapeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{
		scheduler: scheduler,
		timeout:   timeout,
		logger:    logger,
		value: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "statistic"),
			"Current value of a streaming stack statistic.", labels, nil),
		minimum: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "statistic_minimum"),
			"Lower end of a ranged streaming stack statistic.", labels, nil),
		maximum: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "statistic_maximum"),
			"Upper end of a ranged streaming stack statistic.", labels, nil),
		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "report_up"),
			"Whether the last live report completed.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.value
	ch <- c.minimum
	ch <- c.maximum
	ch <- c.up
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.report()
	if err != nil {
		c.logger.Warn("live report failed", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	// The registry rejects duplicate label sets; reports can repeat a
	// name (one "File lock" per handle), so the first one wins.
	seen := make(map[[2]string]bool, len(stats))
	for _, statistic := range stats {
		if !statistic.IsNumeric() {
			continue
		}
		key := [2]string{statistic.Owner(), statistic.Name()}
		if seen[key] {
			continue
		}
		seen[key] = true
		values := []string{statistic.Owner(), statistic.Name(), statistic.Kind().String()}
		ch <- prometheus.MustNewConstMetric(c.value, prometheus.GaugeValue, exported(statistic, statistic.Value()), values...)
		if statistic.HasRange() {
			minimum, maximum := statistic.Range()
			ch <- prometheus.MustNewConstMetric(c.minimum, prometheus.GaugeValue, exported(statistic, minimum), values...)
			ch <- prometheus.MustNewConstMetric(c.maximum, prometheus.GaugeValue, exported(statistic, maximum), values...)
		}
	}
}

func (c *Collector) report() ([]statistics.Statistic, error) {
	request := c.scheduler.Report(streamer.ReportLive)
	defer request.Release()
	if err := c.scheduler.QueueRequest(request); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := request.Wait(ctx); err != nil {
		return nil, err
	}
	return request.Command().(*streamer.ReportData).Statistics, nil
}

func exported(statistic statistics.Statistic, value float64) float64 {
	if statistic.Kind() == statistics.KindTime {
		return time.Duration(value).Seconds()
	}
	return value
}
