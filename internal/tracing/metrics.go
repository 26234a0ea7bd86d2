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

package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// newMeterProvider installs a meter provider read by a Prometheus exporter
// registered with reg.
func newMeterProvider(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	var opts []otelprom.Option
	if reg != nil {
		opts = append(opts, otelprom.WithRegisterer(reg))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// MetricsCollector records action execution metrics.
type MetricsCollector struct {
	executeDuration metric.Float64Histogram
	handshakes      metric.Int64Counter
}

// NewMetricsCollector creates the instruments on meterProvider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("docrelay")

	mc := &MetricsCollector{}
	var err error

	mc.executeDuration, err = meter.Float64Histogram(
		"docrelay.action.duration",
		metric.WithDescription("Duration of action executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.handshakes, err = meter.Int64Counter(
		"docrelay.oauth.handshakes",
		metric.WithDescription("Completed OAuth redirect callbacks"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordExecution records one action execution.
func (mc *MetricsCollector) RecordExecution(ctx context.Context, action, outcome string, d time.Duration) {
	mc.executeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordHandshake records one OAuth redirect callback.
func (mc *MetricsCollector) RecordHandshake(ctx context.Context, action string, success bool) {
	mc.handshakes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}
