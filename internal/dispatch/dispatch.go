// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package dispatch is the command ingress in front of the runtime. It
// enforces per-command timeouts, shapes play-recording bursts with a
// per-user token bucket, trips a circuit breaker when the store degrades,
// and maps every outcome to a stable result code for metrics and the API.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/metrics"
	"github.com/tomtom215/podsync/internal/ratelimit"
	"github.com/tomtom215/podsync/internal/runtime"
)

// Result codes shared by metrics and the HTTP error mapping. Validation
// failures use their aggregate reason code instead.
const (
	CodeOK              = "ok"
	CodeVersionConflict = "version_conflict"
	CodeStreamPoisoned  = "stream_poisoned"
	CodeRateLimited     = "rate_limited"
	CodeTimeout         = "timeout"
	CodeUnavailable     = "unavailable"
)

// Error is a dispatch failure with its stable result code. Validation
// failures keep the aggregate error as the cause so callers can unwrap it.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "dispatch: " + e.Code + ": " + e.Err.Error()
	}
	return "dispatch: " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Config tunes the dispatcher.
type Config struct {
	// Timeout bounds one command end to end. Default 5s.
	Timeout time.Duration

	// BreakerFailureThreshold is how many consecutive infrastructure
	// failures open the breaker. Default 5.
	BreakerFailureThreshold uint32

	// BreakerOpenFor is how long the breaker stays open before probing.
	// Default 30s.
	BreakerOpenFor time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
}

// Dispatcher routes commands to the runtime.
type Dispatcher struct {
	rt      *runtime.Runtime
	limiter *ratelimit.UserLimiter
	breaker *gobreaker.CircuitBreaker[runtime.Result]
	cfg     Config
}

// New builds a Dispatcher. limiter may be nil to disable play shaping.
func New(rt *runtime.Runtime, limiter *ratelimit.UserLimiter, cfg Config) *Dispatcher {
	cfg.setDefaults()

	breaker := gobreaker.NewCircuitBreaker[runtime.Result](gobreaker.Settings{
		Name:    "eventstore",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		// Caller faults must not open the breaker; only infrastructure
		// trouble counts against it.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var ve *aggregate.ValidationError
			return errors.As(err, &ve) ||
				errors.Is(err, runtime.ErrVersionConflict) ||
				errors.Is(err, runtime.ErrStreamPoisoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Dispatcher{rt: rt, limiter: limiter, breaker: breaker, cfg: cfg}
}

// Dispatch executes one command and blocks for the result. On failure the
// returned error is always a *Error carrying the result code.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, cmd aggregate.Command, md events.Metadata) (runtime.Result, error) {
	start := time.Now()
	name := cmd.CommandName()

	res, err := d.dispatch(ctx, userID, cmd, md)

	code := CodeOK
	var de *Error
	if errors.As(err, &de) {
		code = de.Code
	}
	metrics.RecordCommand(name, code, time.Since(start))
	return res, err
}

// DispatchAsync executes a command without making the caller wait, for
// fire-and-forget ingress such as batched position updates. Failures are
// logged and counted but not reported back.
func (d *Dispatcher) DispatchAsync(userID string, cmd aggregate.Command, md events.Metadata) {
	go func() {
		ctx := context.Background()
		if _, err := d.Dispatch(ctx, userID, cmd, md); err != nil {
			logging.Logger().Warn().
				Err(err).
				Str("user_id", userID).
				Str("command", cmd.CommandName()).
				Msg("Async command failed")
		}
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, userID string, cmd aggregate.Command, md events.Metadata) (runtime.Result, error) {
	if d.limiter != nil && cmd.CommandName() == aggregate.CmdRecordPlay {
		if !d.limiter.Allow(userID) {
			metrics.RateLimitRejections.Inc()
			return runtime.Result{}, &Error{Code: CodeRateLimited}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	res, err := d.breaker.Execute(func() (runtime.Result, error) {
		return d.rt.Execute(ctx, userID, cmd, md)
	})
	if err != nil {
		return runtime.Result{}, d.classify(ctx, err)
	}
	return res, nil
}

// classify wraps a runtime or breaker error with its stable result code.
func (d *Dispatcher) classify(ctx context.Context, err error) *Error {
	var ve *aggregate.ValidationError
	switch {
	case errors.As(err, &ve):
		return &Error{Code: ve.Code, Err: err}
	case errors.Is(err, runtime.ErrVersionConflict):
		return &Error{Code: CodeVersionConflict, Err: err}
	case errors.Is(err, runtime.ErrStreamPoisoned):
		return &Error{Code: CodeStreamPoisoned, Err: err}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &Error{Code: CodeUnavailable, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Err: err}
	default:
		return &Error{Code: CodeUnavailable, Err: err}
	}
}
