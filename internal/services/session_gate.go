package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"budget/internal/auth"
	"budget/internal/core"
	"budget/internal/log"
)

// Mode disambiguates a credential submission.
type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "sign_up"
	}
	return "sign_in"
}

// AuthReason is the fixed set of user-facing authentication failures.
type AuthReason string

const (
	ReasonAccountNotFound     AuthReason = "account_not_found"
	ReasonWrongCredential     AuthReason = "wrong_credential"
	ReasonAccountExists       AuthReason = "account_exists"
	ReasonWeakCredential      AuthReason = "weak_credential"
	ReasonMalformedIdentifier AuthReason = "malformed_identifier"
	ReasonOther               AuthReason = "other"
)

var reasonMessages = map[AuthReason]string{
	ReasonAccountNotFound:     "No account found with this email. Try signing up!",
	ReasonWrongCredential:     "Incorrect password. Please try again.",
	ReasonAccountExists:       "Email already in use. Try signing in instead.",
	ReasonWeakCredential:      "Password should be at least 6 characters.",
	ReasonMalformedIdentifier: "Invalid email address.",
}

var (
	ErrNoSession     = errors.New("no active session")
	ErrSessionActive = errors.New("a session is already active")
)

type (
	Credentials struct {
		Email    string
		Password string
		Mode     Mode
	}

	// AuthError is a classified authentication failure.
	AuthError struct {
		Reason  AuthReason
		Message string
		Err     error
	}

	// IdentityProvider is the port to the external identity service.
	IdentityProvider interface {
		SignIn(ctx context.Context, email, password string) (core.Session, error)
		SignUp(ctx context.Context, email, password string) (core.Session, error)
		SignOut(ctx context.Context, s core.Session) error
	}

	// SessionListener observes gate transitions. prev or next is nil when
	// signed out.
	SessionListener func(ctx context.Context, prev, next *core.Session)

	authRecorder interface {
		ObserveAuth(mode, outcome string)
	}
)

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %s", e.Reason, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ClassifyAuthError maps a provider error to its user-facing reason.
func ClassifyAuthError(err error) *AuthError {
	reason := ReasonOther
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		reason = ReasonAccountNotFound
	case errors.Is(err, auth.ErrWrongPassword):
		reason = ReasonWrongCredential
	case errors.Is(err, auth.ErrEmailInUse):
		reason = ReasonAccountExists
	case errors.Is(err, auth.ErrWeakPassword):
		reason = ReasonWeakCredential
	case errors.Is(err, auth.ErrInvalidEmail):
		reason = ReasonMalformedIdentifier
	}
	msg, ok := reasonMessages[reason]
	if !ok {
		msg = err.Error()
	}
	return &AuthError{Reason: reason, Message: msg, Err: err}
}

// SessionGate holds at most one session and notifies listeners on every
// transition. Failed submissions leave the state untouched.
type SessionGate struct {
	provider IdentityProvider
	logger   *log.Logger
	metrics  authRecorder

	// op serialises transitions so listeners run in order.
	op sync.Mutex

	mu        sync.RWMutex
	session   *core.Session
	listeners []SessionListener
}

func NewSessionGate(provider IdentityProvider, logger *log.Logger) *SessionGate {
	if logger == nil {
		logger = log.Nop()
	}
	return &SessionGate{provider: provider, logger: logger.WithComponent(log.ComponentSession)}
}

// WithMetrics attaches an auth attempt recorder.
func (g *SessionGate) WithMetrics(m authRecorder) *SessionGate {
	g.metrics = m
	return g
}

// OnChange registers a listener. Listeners run synchronously inside the
// transition.
func (g *SessionGate) OnChange(fn SessionListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Current returns the active session or nil.
func (g *SessionGate) Current() *core.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.session == nil {
		return nil
	}
	s := *g.session
	return &s
}

// Active reports whether a session is active.
func (g *SessionGate) Active() bool {
	return g.Current() != nil
}

// Submit signs in or up depending on c.Mode. Failures come back as
// *AuthError.
func (g *SessionGate) Submit(ctx context.Context, c Credentials) (core.Session, error) {
	g.op.Lock()
	defer g.op.Unlock()

	if g.Active() {
		return core.Session{}, ErrSessionActive
	}

	var (
		s   core.Session
		err error
	)
	if c.Mode == ModeSignUp {
		s, err = g.provider.SignUp(ctx, c.Email, c.Password)
	} else {
		s, err = g.provider.SignIn(ctx, c.Email, c.Password)
	}
	if err != nil {
		ae := ClassifyAuthError(err)
		g.record(c.Mode, string(ae.Reason))
		g.logger.WarnContext(ctx, "Authentication failed",
			log.FieldOperation, c.Mode.String(),
			log.FieldReason, ae.Reason,
			log.FieldError, err)
		return core.Session{}, ae
	}
	g.record(c.Mode, "ok")
	g.transition(ctx, &s)
	g.logger.InfoContext(ctx, "Session started", log.FieldUserID, s.UserID, log.FieldOperation, c.Mode.String())
	return s, nil
}

// Restore installs an already verified session without calling the
// provider.
func (g *SessionGate) Restore(ctx context.Context, s core.Session) error {
	g.op.Lock()
	defer g.op.Unlock()
	if g.Active() {
		return ErrSessionActive
	}
	g.transition(ctx, &s)
	return nil
}

// SignOut ends the session. The local state is cleared even when the
// provider call fails; that error is returned for logging.
func (g *SessionGate) SignOut(ctx context.Context) error {
	g.op.Lock()
	defer g.op.Unlock()

	current := g.Current()
	if current == nil {
		return ErrNoSession
	}
	err := g.provider.SignOut(ctx, *current)
	if err != nil {
		g.logger.WarnContext(ctx, "Provider sign out failed", log.FieldUserID, current.UserID, log.FieldError, err)
	}
	g.transition(ctx, nil)
	g.logger.InfoContext(ctx, "Session ended", log.FieldUserID, current.UserID)
	return err
}

// Release drops the local session without revoking it at the provider.
// Used when an idle workspace is evicted while its token stays valid.
func (g *SessionGate) Release(ctx context.Context) {
	g.op.Lock()
	defer g.op.Unlock()
	if g.Active() {
		g.transition(ctx, nil)
	}
}

func (g *SessionGate) transition(ctx context.Context, next *core.Session) {
	g.mu.Lock()
	prev := g.session
	g.session = next
	listeners := append([]SessionListener(nil), g.listeners...)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, prev, next)
	}
}

func (g *SessionGate) record(m Mode, outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveAuth(m.String(), outcome)
	}
}
