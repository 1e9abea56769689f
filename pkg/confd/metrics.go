// Copyright 2024 The Ganeti Authors.
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

package confd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yiannist/pkg-ganeti-sub001/pkg/metrics"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ganeti_confd",
		Name:      "requests_total",
		Help:      "Requests handled, by type and reply status.",
	}, []string{"type", "status"})

	dropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ganeti_confd",
		Name:      "drops_total",
		Help:      "Datagrams silently dropped, by reason.",
	}, []string{"reason"})

	handlerSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ganeti_confd",
		Name:      "handler_seconds",
		Help:      "Time spent handling one datagram end to end.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	metrics.RegisterCollector("confd.requests", func() (prometheus.Collector, error) {
		return requestsTotal, nil
	})
	metrics.RegisterCollector("confd.drops", func() (prometheus.Collector, error) {
		return dropsTotal, nil
	})
	metrics.RegisterCollector("confd.handler_seconds", func() (prometheus.Collector, error) {
		return handlerSeconds, nil
	})
}
