// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package ratio

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	upload          prometheus.Gauge
	download        prometheus.Gauge
	ratio           prometheus.Gauge
	persistFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		upload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratio",
			Name:      "total_upload_bytes",
			Help:      "lifetime uploaded bytes",
		}),
		download: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratio",
			Name:      "total_download_bytes",
			Help:      "lifetime downloaded bytes",
		}),
		ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratio",
			Name:      "value",
			Help:      "lifetime share ratio",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratio",
			Name:      "persist_failures_total",
			Help:      "number of failed writes of the ratio state",
		}),
	}

	m.upload = register(reg, m.upload).(prometheus.Gauge)
	m.download = register(reg, m.download).(prometheus.Gauge)
	m.ratio = register(reg, m.ratio).(prometheus.Gauge)
	m.persistFailures = register(reg, m.persistFailures).(prometheus.Counter)
	return m
}

// register returns the already registered collector on re-registration,
// so a tracker can be re-created within a process.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if reg == nil {
		return c
	}

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *metrics) update(upload, download int64) {
	m.upload.Set(float64(upload))
	m.download.Set(float64(download))
	m.ratio.Set(NewReport(upload, download).Ratio)
}
