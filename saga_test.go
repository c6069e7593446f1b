package identity_test

import (
	"context"
	"errors"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaCompensatesInReverseOrder(t *testing.T) {
	var trail []string
	step := func(name string, fail bool) identity.SagaStep {
		return identity.SagaStep{
			Name: name,
			Run: func(context.Context) error {
				trail = append(trail, "run:"+name)
				if fail {
					return errors.New(name + " failed")
				}
				return nil
			},
			Compensate: func(context.Context) error {
				trail = append(trail, "undo:"+name)
				return nil
			},
		}
	}

	saga := identity.NewSaga("test", silentLogger{}, nil,
		step("a", false),
		step("b", false),
		step("c", true),
		step("d", false),
	)

	err := saga.Execute(context.Background())
	require.EqualError(t, err, "c failed")
	assert.Equal(t, []string{"run:a", "run:b", "run:c", "undo:b", "undo:a"}, trail)
}

func TestSagaReturnsOriginalErrorWhenCompensationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := identity.NewMetrics(reg)
	original := errors.New("boom")

	saga := identity.NewSaga("test", silentLogger{}, metrics,
		identity.SagaStep{
			Name:       "first",
			Run:        func(context.Context) error { return nil },
			Compensate: func(context.Context) error { return errors.New("undo failed") },
		},
		identity.SagaStep{
			Name: "second",
			Run:  func(context.Context) error { return original },
		},
	)

	err := saga.Execute(context.Background())
	assert.Same(t, original, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Compensations.WithLabelValues("test", "failure")))
}

func TestSagaCompensatesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var compensated bool

	saga := identity.NewSaga("test", silentLogger{}, nil,
		identity.SagaStep{
			Name: "first",
			Run:  func(context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				compensated = ctx.Err() == nil
				return nil
			},
		},
		identity.SagaStep{
			Name: "second",
			Run: func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			},
		},
	)

	err := saga.Execute(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, compensated, "compensation must not observe the caller cancellation")
}
