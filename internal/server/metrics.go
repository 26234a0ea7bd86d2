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

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrelay",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Action server requests by route and status code.",
	}, []string{"route", "code"})

	executeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docrelay",
		Subsystem: "action",
		Name:      "executions_total",
		Help:      "Execute requests by action and outcome.",
	}, []string{"action", "outcome"})
)
