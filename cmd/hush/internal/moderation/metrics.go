// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hush_events_handled_total",
	Help: "Number of message events handled, by outcome",
}, []string{"outcome"})

var privilegeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hush_privilege_lookups_total",
	Help: "Number of privilege lookups, by source (cache, remote, error)",
}, []string{"source"})

var persistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hush_persist_errors_total",
	Help: "Number of failed writes to durable storage, by collection",
}, []string{"collection"})

var muteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "hush_mute_duration_seconds",
	Help:    "Duration of mute calls to the platform",
	Buckets: prometheus.DefBuckets,
})
