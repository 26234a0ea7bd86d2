// Copyright 2025 Tom Barlow
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

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrelay_pipeline_runs_total",
			Help: "Document builds by destination and outcome",
		},
		[]string{"destination", "outcome"},
	)

	cellsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrelay_pipeline_cells_total",
			Help: "Table cells written",
		},
		[]string{"destination"},
	)

	batchesPerRun = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrelay_pipeline_batches",
			Help:    "Cell batches per document build",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"destination"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrelay_pipeline_duration_seconds",
			Help:    "Duration of document builds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"destination", "outcome"},
	)
)
