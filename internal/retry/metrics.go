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

package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrelay_remote_attempts_total",
			Help: "Remote call attempts by outcome (success, retry, failure)",
		},
		[]string{"service", "operation", "outcome"},
	)

	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docrelay_remote_retries_exhausted_total",
			Help: "Remote calls that failed with a retryable status after the retry ceiling",
		},
		[]string{"service", "operation"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docrelay_remote_call_duration_seconds",
			Help:    "Duration of individual remote call attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)
)
