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

// Package metrics provides a small collector registry so packages can
// register their Prometheus collectors without importing each other,
// and a single gatherer can be built once at daemon startup.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// InitCollector builds a prometheus.Collector on demand.
type InitCollector func() (prometheus.Collector, error)

var builtInCollectors = make(map[string]InitCollector)

// RegisterCollector records a named collector factory for inclusion in
// the next NewMetricGatherer call. Intended to be called from package
// init functions.
func RegisterCollector(name string, init InitCollector) error {
	if _, found := builtInCollectors[name]; found {
		return errors.Errorf("metrics: collector %q already registered", name)
	}
	builtInCollectors[name] = init
	return nil
}

// NewMetricGatherer instantiates every registered collector and returns
// a pedantic registry exposing them all.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	reg := prometheus.NewPedanticRegistry()

	collectors := make([]prometheus.Collector, 0, len(builtInCollectors))
	for name, init := range builtInCollectors {
		c, err := init()
		if err != nil {
			return nil, errors.Wrapf(err, "metrics: initializing collector %q", name)
		}
		collectors = append(collectors, c)
	}

	reg.MustRegister(collectors...)
	return reg, nil
}
