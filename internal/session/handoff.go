package session

import (
	"context"
	"time"

	"receipt-reconciler/pkg/logger"
)

// HandoffState is the state of the bounded auth-handoff wait.
type HandoffState string

const (
	StateAwaitingAuth  HandoffState = "awaiting_auth"
	StateAuthenticated HandoffState = "authenticated"
	StateTimedOut      HandoffState = "timed_out"
)

// Validator probes whether the session is authenticated right now,
// typically by fetching a known page and checking it no longer resolves
// to a login/challenge state.
type Validator func(ctx context.Context) (bool, error)

// HandoffConfig bounds the wait for an external actor to complete
// authentication in the provider session.
type HandoffConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       logger.Logger
}

// DefaultHandoffConfig returns the default bounded-wait configuration.
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		Timeout:      15 * time.Minute,
		PollInterval: 5 * time.Second,
	}
}

// Handoff is the explicit state machine replacing "wait until the page
// stops looking like a login page" loops. It moves awaiting_auth →
// authenticated on a successful probe, or awaiting_auth → timed_out at
// the deadline.
type Handoff struct {
	config HandoffConfig
	state  HandoffState
	log    logger.Logger
}

// NewHandoff creates a handoff in the awaiting_auth state.
func NewHandoff(config HandoffConfig) *Handoff {
	if config.Timeout <= 0 {
		config.Timeout = DefaultHandoffConfig().Timeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultHandoffConfig().PollInterval
	}
	log := config.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Handoff{
		config: config,
		state:  StateAwaitingAuth,
		log:    log.WithComponent("auth_handoff"),
	}
}

// State returns the current handoff state.
func (h *Handoff) State() HandoffState {
	return h.state
}

// Wait polls the validator until it reports an authenticated session or
// the deadline expires. The first probe happens immediately so an
// already-valid session never waits. Validator errors are logged and
// treated as "not yet authenticated"; only context cancellation is
// returned as an error.
func (h *Handoff) Wait(ctx context.Context, validate Validator) (HandoffState, error) {
	deadline := time.Now().Add(h.config.Timeout)
	h.state = StateAwaitingAuth
	h.log.WithField("timeout", h.config.Timeout.String()).
		Info("Waiting for authentication handoff")

	for {
		ok, err := validate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return h.state, ctx.Err()
			}
			h.log.WithError(err).Debug("Auth probe failed, retrying")
		} else if ok {
			h.state = StateAuthenticated
			h.log.Info("Session authenticated")
			return h.state, nil
		}

		if time.Now().After(deadline) {
			h.state = StateTimedOut
			h.log.Warn("Authentication handoff timed out")
			return h.state, nil
		}

		select {
		case <-ctx.Done():
			return h.state, ctx.Err()
		case <-time.After(h.config.PollInterval):
		}
	}
}
