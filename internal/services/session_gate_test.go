package services

import (
	"context"
	"errors"
	"testing"

	"budget/internal/auth"
	"budget/internal/core"
)

func TestClassifyAuthError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		reason  AuthReason
		message string
	}{
		{"not found", auth.ErrUserNotFound, ReasonAccountNotFound, "No account found with this email. Try signing up!"},
		{"wrong password", auth.ErrWrongPassword, ReasonWrongCredential, "Incorrect password. Please try again."},
		{"email in use", auth.ErrEmailInUse, ReasonAccountExists, "Email already in use. Try signing in instead."},
		{"weak password", auth.ErrWeakPassword, ReasonWeakCredential, "Password should be at least 6 characters."},
		{"invalid email", auth.ErrInvalidEmail, ReasonMalformedIdentifier, "Invalid email address."},
		{"wrapped", errors.Join(errors.New("context"), auth.ErrWrongPassword), ReasonWrongCredential, "Incorrect password. Please try again."},
		{"other", errors.New("network down"), ReasonOther, "network down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAuthError(tt.err)
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
			if !errors.Is(got, tt.err) {
				t.Error("AuthError should wrap the provider error")
			}
		})
	}
}

type recordedAuth struct{ mode, outcome string }

type authRecorderStub struct{ calls []recordedAuth }

func (r *authRecorderStub) ObserveAuth(mode, outcome string) {
	r.calls = append(r.calls, recordedAuth{mode, outcome})
}

func TestSessionGate_Submit(t *testing.T) {
	provider := &fakeProvider{}
	rec := &authRecorderStub{}
	gate := NewSessionGate(provider, nil).WithMetrics(rec)

	var transitions []*core.Session
	gate.OnChange(func(_ context.Context, _, next *core.Session) {
		transitions = append(transitions, next)
	})

	s, err := gate.Submit(context.Background(), Credentials{Email: "a@example.com", Password: "secret1", Mode: ModeSignUp})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if s.UserID != "u-a@example.com" {
		t.Errorf("UserID = %q", s.UserID)
	}
	if !gate.Active() {
		t.Fatal("gate should be active after a successful submit")
	}
	if len(transitions) != 1 || transitions[0] == nil {
		t.Fatalf("transitions = %v, want one sign-in", transitions)
	}
	if len(rec.calls) != 1 || rec.calls[0] != (recordedAuth{"sign_up", "ok"}) {
		t.Errorf("recorded = %v", rec.calls)
	}

	if _, err := gate.Submit(context.Background(), Credentials{Email: "b@example.com", Password: "secret1"}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Submit() error = %v, want ErrSessionActive", err)
	}
}

func TestSessionGate_SubmitFailureLeavesStateUnchanged(t *testing.T) {
	provider := &fakeProvider{signInErr: auth.ErrWrongPassword}
	gate := NewSessionGate(provider, nil)
	called := false
	gate.OnChange(func(context.Context, *core.Session, *core.Session) { called = true })

	_, err := gate.Submit(context.Background(), Credentials{Email: "a@example.com", Password: "nope"})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Submit() error = %v, want *AuthError", err)
	}
	if ae.Reason != ReasonWrongCredential {
		t.Errorf("Reason = %q, want %q", ae.Reason, ReasonWrongCredential)
	}
	if gate.Active() {
		t.Error("failed submit must not start a session")
	}
	if called {
		t.Error("listeners must not run on failure")
	}
}

func TestSessionGate_SignOut(t *testing.T) {
	provider := &fakeProvider{}
	gate := NewSessionGate(provider, nil)

	if err := gate.SignOut(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("SignOut() without session error = %v, want ErrNoSession", err)
	}

	if _, err := gate.Submit(context.Background(), Credentials{Email: "a@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	var prevSeen *core.Session
	gate.OnChange(func(_ context.Context, prev, next *core.Session) {
		if next == nil {
			prevSeen = prev
		}
	})

	provider.signOutErr = errors.New("revocation failed")
	if err := gate.SignOut(context.Background()); err == nil {
		t.Error("SignOut() should surface the provider error")
	}
	if gate.Active() {
		t.Error("session must be cleared even when the provider fails")
	}
	if prevSeen == nil || prevSeen.Email != "a@example.com" {
		t.Errorf("listener prev = %v", prevSeen)
	}
	if provider.signOuts != 1 {
		t.Errorf("provider sign outs = %d, want 1", provider.signOuts)
	}
}

func TestSessionGate_RestoreAndRelease(t *testing.T) {
	provider := &fakeProvider{}
	gate := NewSessionGate(provider, nil)

	s := core.Session{UserID: "u1", Email: "a@example.com", Token: "tok"}
	if err := gate.Restore(context.Background(), s); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if cur := gate.Current(); cur == nil || cur.UserID != "u1" {
		t.Fatalf("Current() = %v", cur)
	}
	if err := gate.Restore(context.Background(), s); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Restore() error = %v, want ErrSessionActive", err)
	}

	gate.Release(context.Background())
	if gate.Active() {
		t.Error("Release should clear the session")
	}
	if provider.signOuts != 0 {
		t.Error("Release must not revoke at the provider")
	}
}
