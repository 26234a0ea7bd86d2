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

// Package retry wraps a single logical remote call with bounded exponential
// backoff, classified by the vendor response status code.
package retry

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/redact"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// Defaults for a destination whose configuration leaves the field unset.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 3.0
)

// DefaultRetryableCodes are the vendor status codes worth retrying.
var DefaultRetryableCodes = []int{429, 409, 500, 504, 503}

// Policy configures retry behavior for one destination.
type Policy struct {
	// Enabled turns retrying on. A disabled policy makes exactly one attempt.
	Enabled bool

	// MaxRetries is the retry ceiling. A call makes at most MaxRetries+1 attempts.
	MaxRetries int

	// BaseDelay is the exponential base, in seconds.
	BaseDelay float64

	// RetryableCodes is the set of status codes that are retried.
	RetryableCodes []int
}

// DefaultPolicy returns a disabled policy with the default ceiling and base.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		RetryableCodes: slices.Clone(DefaultRetryableCodes),
	}
}

// IsRetryable reports whether statusCode is in the retryable set.
func (p Policy) IsRetryable(statusCode int) bool {
	return slices.Contains(p.RetryableCodes, statusCode)
}

// Delay returns the wait before the retry that follows a failed attempt:
// BaseDelay^attempt seconds, truncated to whole seconds.
func (p Policy) Delay(attempt int) time.Duration {
	seconds := math.Floor(math.Pow(p.BaseDelay, float64(attempt)))
	return time.Duration(seconds) * time.Second
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs calls under a Policy.
type Executor struct {
	policy  Policy
	service string
	logger  *slog.Logger
	sleep   Sleeper
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff timer. Tests use it to record delays.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithService sets the service label on logs and metrics.
func WithService(service string) Option {
	return func(e *Executor) { e.service = service }
}

// NewExecutor returns an Executor for policy.
func NewExecutor(policy Policy, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.RetryableCodes == nil {
		policy.RetryableCodes = slices.Clone(DefaultRetryableCodes)
	}
	e := &Executor{
		policy:  policy,
		service: "remote",
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn until it succeeds, fails with a status outside the retryable
// set, or exhausts the ceiling. The returned error is the last attempt's
// error after credential redaction.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := e.logger.With("service", e.service, "operation", op)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := fn(ctx)
		callDuration.WithLabelValues(e.service, op).Observe(time.Since(start).Seconds())

		if err == nil {
			attemptsTotal.WithLabelValues(e.service, op, "success").Inc()
			return nil
		}

		status := relayerrors.StatusCode(err)
		if !e.shouldRetry(status, attempt) {
			attemptsTotal.WithLabelValues(e.service, op, "failure").Inc()
			if e.policy.Enabled && e.policy.IsRetryable(status) {
				exhaustedTotal.WithLabelValues(e.service, op).Inc()
			}
			return redact.Error(err)
		}

		attemptsTotal.WithLabelValues(e.service, op, "retry").Inc()
		delay := e.policy.Delay(attempt)
		logger.Warn("queueing retry",
			slog.Int(log.AttemptKey, attempt),
			slog.Int("status", status),
			log.Duration("delay", delay),
		)

		if serr := e.sleep(ctx, delay); serr != nil {
			return relayerrors.Wrapf(redact.Error(err), "%s retry aborted after attempt %d (%v)", op, attempt, serr)
		}
	}
}

func (e *Executor) shouldRetry(status, attempt int) bool {
	return e.policy.Enabled && e.policy.IsRetryable(status) && attempt < e.policy.MaxRetries
}

// Call is Do for calls that return a value.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
