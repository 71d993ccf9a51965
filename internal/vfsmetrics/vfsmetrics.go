// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfsmetrics exposes Prometheus counters and histograms for
// VFS operations: a handle holding three collectors
// (vfscore_ops_total, vfscore_op_latency_seconds and
// vfscore_op_errors_total) labelled by operation name, the error
// counter also by errno.
package vfsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handle records VFS operation counts, latencies, and errors.
type Handle struct {
	opsTotal   *prometheus.CounterVec
	opsLatency *prometheus.HistogramVec
	opsErrors  *prometheus.CounterVec
}

// NewHandle constructs a Handle and registers its collectors with reg.
// Passing prometheus.NewRegistry() keeps metrics isolated per test;
// passing prometheus.DefaultRegisterer wires into the process-wide
// /metrics endpoint the way cmd/vfsctl does.
func NewHandle(reg prometheus.Registerer) *Handle {
	h := &Handle{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vfscore",
			Name:      "ops_total",
			Help:      "Number of VFS operations processed, by operation.",
		}, []string{"op"}),
		opsLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vfscore",
			Name:      "op_latency_seconds",
			Help:      "VFS operation latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		opsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vfscore",
			Name:      "op_errors_total",
			Help:      "Number of VFS operations that returned an error, by operation and errno.",
		}, []string{"op", "errno"}),
	}
	reg.MustRegister(h.opsTotal, h.opsLatency, h.opsErrors)
	return h
}

// Observe records one completed operation named op, which took dur.
// errnoName is the string form of the errno.Errno returned, or "" on
// success.
func (h *Handle) Observe(op string, dur time.Duration, errnoName string) {
	h.opsTotal.WithLabelValues(op).Inc()
	h.opsLatency.WithLabelValues(op).Observe(dur.Seconds())
	if errnoName != "" {
		h.opsErrors.WithLabelValues(op, errnoName).Inc()
	}
}

// Track is a convenience wrapper for the common "defer Track(...)"
// call-site shape: it captures the start time immediately and returns a
// function that records the observation when the operation completes.
func (h *Handle) Track(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		name := ""
		if e, ok := err.(interface{ Error() string }); ok && e != nil {
			name = e.Error()
		}
		h.Observe(op, time.Since(start), name)
	}
}
