package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/metrics"
)

// Policy controls how an operation is retried. Policies are immutable values
// selected per operation kind.
type Policy struct {
	// Forever retries until success or a fatal error.
	Forever bool
	// Retries bounds the number of retries after the initial attempt. Only
	// consulted when Forever is false.
	Retries  int
	Factor   float64
	MinDelay time.Duration
	MaxDelay time.Duration
}

var (
	// Critical guards state-changing calls: a bounded number of retries, then
	// the last error surfaces.
	Critical = Policy{Retries: 10, Factor: 1.2, MinDelay: 10 * time.Second, MaxDelay: time.Minute}

	// Patient guards idempotent reads: retry indefinitely until success or a
	// fatal error.
	Patient = Policy{Forever: true, Factor: 1.2, MinDelay: 10 * time.Second, MaxDelay: 5 * time.Minute}
)

// Class is the retry decision for an observed error.
type Class int

const (
	ClassNone Class = iota
	ClassTransient
	ClassFatal
)

// Classify maps an error to a retry decision. The mapping is total over
// failure kinds: recoverable network and server conditions are transient,
// everything else is fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	switch core.KindOf(err) {
	case core.KindTimeout,
		core.KindConnReset,
		core.KindConnRefused,
		core.KindDNSFailure,
		core.KindRateLimited,
		core.KindServerError:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// Do runs op under the policy, retrying transient failures with exponential
// backoff. Fatal failures abort immediately with the error; bounded policies
// surface the last error once retries are exhausted. One attempt is in flight
// at a time, and waits honor ctx cancellation.
func Do(ctx context.Context, log *zap.Logger, p Policy, name string, op func(context.Context) error) error {
	delay := p.MinDelay
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		switch Classify(err) {
		case ClassNone:
			metrics.RetryAttempts.WithLabelValues(name, "success").Inc()
			if attempt > 1 {
				log.Debug("operation recovered",
					zap.String("op", name),
					zap.Int("attempt", attempt))
			}
			return nil
		case ClassFatal:
			metrics.RetryAttempts.WithLabelValues(name, "fatal").Inc()
			log.Error("operation failed",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.String("kind", string(core.KindOf(err))),
				zap.Error(err))
			return err
		}

		metrics.RetryAttempts.WithLabelValues(name, "transient").Inc()
		if !p.Forever && attempt > p.Retries {
			metrics.RetryAttempts.WithLabelValues(name, "exhausted").Inc()
			log.Error("retries exhausted",
				zap.String("op", name),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return err
		}
		log.Debug("retrying operation",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = nextDelay(delay, p)
	}
}

func nextDelay(current time.Duration, p Policy) time.Duration {
	next := time.Duration(float64(current) * p.Factor)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}
