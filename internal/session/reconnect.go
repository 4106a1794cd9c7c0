package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/config"
	"github.com/isqad/livelook-classroom/internal/core"
	"github.com/isqad/livelook-classroom/internal/signaling"
	"github.com/isqad/livelook-classroom/internal/telemetry"
)

var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// reconnectBudget is the number of dials a session may spend between two
// acknowledged joins
func reconnectBudget(conf config.SessionConfig) int {
	if conf.ReconnectAttempts < 1 {
		return 1
	}
	return conf.ReconnectAttempts
}

func newReconnectPolicy(ctx context.Context, conf config.SessionConfig, attempts int) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = conf.ReconnectInitialInterval
	policy.MaxInterval = conf.ReconnectMaxInterval
	// attempts bound the policy, not elapsed time
	policy.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
}

// redial spends what is left of the reconnect budget after used dials, with
// exponential backoff between them. It returns the dials it made.
func redial(ctx context.Context, dialer signaling.Dialer, session core.SessionID, self core.ParticipantID, conf config.SessionConfig, used int) (signaling.Conn, int, error) {
	var (
		conn    signaling.Conn
		attempt int
	)

	left := reconnectBudget(conf) - used
	if left < 1 {
		return nil, 0, ErrReconnectExhausted
	}

	// a connection that dropped before the rejoin was acknowledged counts as
	// a failed attempt and waits like one
	if used > 0 {
		wait := time.NewTimer(conf.ReconnectInitialInterval)
		defer wait.Stop()

		select {
		case <-wait.C:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	operation := func() error {
		attempt++
		telemetry.ReconnectAttempts.Inc()

		attemptCtx := ctx
		if conf.ReconnectAttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, conf.ReconnectAttemptTimeout)
			defer cancel()
		}

		c, err := dialer.Dial(attemptCtx, session, self)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Debug().Err(err).Str("service", "session").Int("attempt", attempt).Msg("reconnect attempt failed")
			return err
		}

		conn = c
		return nil
	}

	if err := backoff.Retry(operation, newReconnectPolicy(ctx, conf, left)); err != nil {
		return nil, attempt, err
	}

	log.Info().Str("service", "session").Str("session", string(session)).Int("attempt", used+attempt).Msg("reconnected")

	return conn, attempt, nil
}
