package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Provider verifies credentials and creates accounts.
//
// Thread Safety: safe for concurrent use; it holds no per-session state.
type Provider struct {
	accounts AccountRepository
	params   HashParams
	now      func() time.Time
}

// NewProvider creates a provider backed by accounts using DefaultHashParams.
func NewProvider(accounts AccountRepository) *Provider {
	return &Provider{
		accounts: accounts,
		params:   DefaultHashParams,
		now:      time.Now,
	}
}

// SetHashParams overrides the Argon2id cost for new hashes. Tests lower it.
func (p *Provider) SetHashParams(params HashParams) {
	p.params = params
}

// SignUp creates an account and returns its identity.
func (p *Provider) SignUp(ctx context.Context, email, password string) (Identity, error) {
	email = NormaliseEmail(email)
	if err := ValidateEmail(email); err != nil {
		return Identity{}, err
	}
	if len(password) < minPasswordLength {
		return Identity{}, ErrWeakPassword
	}

	hash, err := p.params.Hash(password)
	if err != nil {
		return Identity{}, fmt.Errorf("hashing password: %w", err)
	}

	account := &Account{Email: email, PasswordHash: hash}
	if err := p.accounts.Create(ctx, account); err != nil {
		return Identity{}, err
	}
	return account.Identity(), nil
}

// SignIn verifies email and password. Unknown emails and wrong passwords
// both return ErrInvalidCredentials.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Identity, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("looking up account: %w", err)
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return Identity{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}

	if err := p.accounts.RecordSignIn(ctx, account.ID, p.now()); err != nil {
		return Identity{}, fmt.Errorf("recording sign-in: %w", err)
	}
	return account.Identity(), nil
}

// Authenticator is the credential half of the identity provider contract.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignUp(ctx context.Context, email, password string) (Identity, error)
}

// AuthHandler receives the signed-in identity, or nil after sign-out.
type AuthHandler func(current *Identity)

// AuthState is the authentication state of one application session.
//
// Listeners registered with OnAuthStateChange receive the current state
// immediately and then every change, in order. Handlers run on the
// goroutine that caused the change and must not call back into the
// AuthState.
type AuthState struct {
	auth Authenticator

	// deliverMu serialises state changes with their delivery so listeners
	// observe transitions in the order they happened.
	deliverMu sync.Mutex

	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]AuthHandler
	nextID    uint64
}

// NewAuthState creates a signed-out AuthState using auth for credentials.
func NewAuthState(auth Authenticator) *AuthState {
	return &AuthState{
		auth:      auth,
		listeners: make(map[uint64]AuthHandler),
	}
}

// SignIn verifies credentials and makes the resulting identity current.
func (s *AuthState) SignIn(ctx context.Context, email, password string) (Identity, error) {
	id, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	s.set(&id)
	return id, nil
}

// SignUp creates an account and makes its identity current.
func (s *AuthState) SignUp(ctx context.Context, email, password string) (Identity, error) {
	id, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	s.set(&id)
	return id, nil
}

// SignOut clears the current identity. Signing out while signed out does
// not notify listeners.
func (s *AuthState) SignOut() {
	s.set(nil)
}

// Current returns a copy of the signed-in identity, or nil.
func (s *AuthState) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

// OnAuthStateChange registers handler and immediately delivers the
// current state to it. The returned function removes the handler; it is
// safe to call more than once.
func (s *AuthState) OnAuthStateChange(handler AuthHandler) (unsubscribe func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = handler
	current := copyIdentity(s.current)
	s.mu.Unlock()

	handler(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered handlers.
func (s *AuthState) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *AuthState) set(next *Identity) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if sameIdentity(s.current, next) {
		s.mu.Unlock()
		return
	}
	s.current = copyIdentity(next)
	handlers := make([]AuthHandler, 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(copyIdentity(next))
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
