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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/docrelay/internal/transport"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func enabledPolicy() Policy {
	p := DefaultPolicy()
	p.Enabled = true
	return p
}

func remoteErr(status int) error {
	return &relayerrors.RemoteError{Service: "docs", Operation: "batch_update", StatusCode: status, Message: "boom"}
}

func TestDo_RetriesToCeiling(t *testing.T) {
	rec := &recorder{}
	exec := NewExecutor(enabledPolicy(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		WithSleeper(rec.sleep), WithService("test_ceiling"))

	calls := 0
	err := exec.Do(context.Background(), "batch_update", func(ctx context.Context) error {
		calls++
		return remoteErr(429)
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxRetries+1, calls)
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		3 * time.Second,
		9 * time.Second,
		27 * time.Second,
		81 * time.Second,
	}, rec.delays)

	var remote *relayerrors.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 429, remote.StatusCode)

	assert.Equal(t, float64(DefaultMaxRetries), testutil.ToFloat64(attemptsTotal.WithLabelValues("test_ceiling", "batch_update", "retry")))
	assert.Equal(t, float64(1), testutil.ToFloat64(exhaustedTotal.WithLabelValues("test_ceiling", "batch_update")))
}

func TestDo_Disabled(t *testing.T) {
	rec := &recorder{}
	exec := NewExecutor(DefaultPolicy(), nil, WithSleeper(rec.sleep))

	calls := 0
	err := exec.Do(context.Background(), "batch_update", func(ctx context.Context) error {
		calls++
		return remoteErr(503)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_NonRetryableStatus(t *testing.T) {
	for _, status := range []int{0, 400, 401, 403, 404, 502} {
		rec := &recorder{}
		exec := NewExecutor(enabledPolicy(), nil, WithSleeper(rec.sleep))

		calls := 0
		err := exec.Do(context.Background(), "create", func(ctx context.Context) error {
			calls++
			if status == 0 {
				return errors.New("connection reset")
			}
			return remoteErr(status)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d", status)
		assert.Empty(t, rec.delays)
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	rec := &recorder{}
	exec := NewExecutor(enabledPolicy(), nil, WithSleeper(rec.sleep))

	calls := 0
	err := exec.Do(context.Background(), "batch_update", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &transport.TransportError{Type: transport.ErrorTypeConflict, StatusCode: 409}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.delays)
}

func TestDo_WrappedStatusIsClassified(t *testing.T) {
	rec := &recorder{}
	exec := NewExecutor(enabledPolicy(), nil, WithSleeper(rec.sleep))

	calls := 0
	_ = exec.Do(context.Background(), "list_drives", func(ctx context.Context) error {
		calls++
		return relayerrors.Wrap(remoteErr(500), "listing shared drives")
	})
	assert.Equal(t, DefaultMaxRetries+1, calls)
}

func TestDo_CustomCeiling(t *testing.T) {
	rec := &recorder{}
	policy := enabledPolicy()
	policy.MaxRetries = 2
	policy.BaseDelay = 2
	exec := NewExecutor(policy, nil, WithSleeper(rec.sleep))

	calls := 0
	_ = exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return remoteErr(504)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDo_SleepAborted(t *testing.T) {
	exec := NewExecutor(enabledPolicy(), nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}))

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return remoteErr(429)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "retry aborted")

	var remote *relayerrors.RemoteError
	assert.True(t, errors.As(err, &remote))
}

func TestDo_SanitizesFinalError(t *testing.T) {
	exec := NewExecutor(DefaultPolicy(), nil)

	err := exec.Do(context.Background(), "exchange", func(ctx context.Context) error {
		return errors.New(`token endpoint said {"access_token":"ya29.secret"}`)
	})

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "ya29.secret")
}

func TestDo_LogsRetryAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	policy := enabledPolicy()
	policy.MaxRetries = 1
	exec := NewExecutor(policy, logger, WithSleeper((&recorder{}).sleep))

	_ = exec.Do(context.Background(), "batch_update", func(ctx context.Context) error {
		return remoteErr(429)
	})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "queueing retry"))
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"attempt":0`)
}

func TestCall(t *testing.T) {
	exec := NewExecutor(enabledPolicy(), nil, WithSleeper((&recorder{}).sleep))

	calls := 0
	id, err := Call(context.Background(), exec, "create", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", remoteErr(503)
		}
		return "doc-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 1.5}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
