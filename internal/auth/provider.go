// Package auth is the local identity provider: bcrypt password hashes in a
// UserStore and HS256 session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"budget/internal/core"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

const (
	tokenTypeSession = "session"
	issuer           = "budget"
)

type (
	User struct {
		ID           string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}

	// UserStore persists accounts. CreateUser returns ErrEmailInUse for a
	// duplicate email and lookups return ErrUserNotFound.
	UserStore interface {
		CreateUser(ctx context.Context, u User) error
		UserByEmail(ctx context.Context, email string) (User, error)
	}

	// SessionEvent is emitted whenever a session starts or ends.
	SessionEvent struct {
		Session  core.Session
		SignedIn bool
	}

	Claims struct {
		Email string `json:"email"`
		Type  string `json:"type"`
		jwt.RegisteredClaims
	}

	Options struct {
		Secret     []byte
		SessionTTL time.Duration
		BcryptCost int
		Now        func() time.Time
	}
)

type Provider struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time

	mu        sync.Mutex
	revoked   map[string]time.Time
	listeners map[int]func(SessionEvent)
	nextID    int
}

func NewProvider(users UserStore, opts Options) (*Provider, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Provider{
		users:     users,
		secret:    opts.Secret,
		ttl:       opts.SessionTTL,
		cost:      opts.BcryptCost,
		now:       opts.Now,
		revoked:   make(map[string]time.Time),
		listeners: make(map[int]func(SessionEvent)),
	}, nil
}

// SignIn checks the credential and issues a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (core.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.Session{}, err
	}
	u, err := p.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return core.Session{}, ErrUserNotFound
		}
		return core.Session{}, internalError("lookup user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return core.Session{}, ErrWrongPassword
	}
	return p.issue(u)
}

// SignUp registers a new account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (core.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.Session{}, err
	}
	if len(password) < MinPasswordLength {
		return core.Session{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return core.Session{}, internalError("hash password", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return core.Session{}, ErrEmailInUse
		}
		return core.Session{}, internalError("create user", err)
	}
	return p.issue(u)
}

// SignOut revokes the session token.
func (p *Provider) SignOut(_ context.Context, s core.Session) error {
	claims, err := p.parse(s.Token)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.revoked[claims.ID] = claims.ExpiresAt.Time
	p.pruneLocked()
	p.mu.Unlock()
	p.emit(SessionEvent{Session: s, SignedIn: false})
	return nil
}

// Verify resolves a token to its session.
func (p *Provider) Verify(token string) (core.Session, error) {
	claims, err := p.parse(token)
	if err != nil {
		return core.Session{}, err
	}
	p.mu.Lock()
	_, revoked := p.revoked[claims.ID]
	p.mu.Unlock()
	if revoked {
		return core.Session{}, ErrInvalidToken
	}
	return core.Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// OnSessionChange registers fn for session events and returns a function
// that removes it.
func (p *Provider) OnSessionChange(fn func(SessionEvent)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) issue(u User) (core.Session, error) {
	now := p.now()
	expires := now.Add(p.ttl)
	claims := Claims{
		Email: u.Email,
		Type:  tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return core.Session{}, internalError("sign token", err)
	}
	s := core.Session{UserID: u.ID, Email: u.Email, Token: signed, ExpiresAt: expires}
	p.emit(SessionEvent{Session: s, SignedIn: true})
	return s, nil
}

func (p *Provider) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, &Error{Code: CodeInvalidToken, Message: "token invalid or expired", Err: err}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Type != tokenTypeSession || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *Provider) emit(ev SessionEvent) {
	p.mu.Lock()
	fns := make([]func(SessionEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// pruneLocked forgets revocations whose tokens have expired anyway.
func (p *Provider) pruneLocked() {
	now := p.now()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}
