// Package handshake reconciles three sources of truth into one Session: the
// locally cached record, the identity provider's session, and the backend's
// user record. The backend is the final authority on identity and the only
// authority on role.
package handshake

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"apnastudent/portal/internal/api"
	"apnastudent/portal/internal/identity"
	"apnastudent/portal/internal/session"
)

type State string

const (
	StateAnonymous             State = "anonymous"
	StateIdentityPending       State = "identity_pending"
	StateIdentityAuthenticated State = "identity_authenticated"
	StateBackendSyncing        State = "backend_syncing"
	StateSynced                State = "synced"
	StateSyncFailed            State = "sync_failed"
)

var (
	// ErrAccessDenied: an admin-only login attempt resolved to a non-admin
	// record. The cache is cleared and the identity session terminated
	// before this is returned.
	ErrAccessDenied = errors.New("access denied")
	// ErrEmailRequired: the handshake has an identity session but no email
	// to sync with; the caller must prompt rather than fail silently.
	ErrEmailRequired = errors.New("email required to sync profile")
	// ErrRegistrationRequired: the identity provider knows the user but the
	// backend does not. The identity session is torn down before this is
	// returned; the user belongs on the registration route.
	ErrRegistrationRequired = errors.New("no backend record, registration required")
	// ErrVerificationIncomplete: the email code did not complete the
	// provider sign-up.
	ErrVerificationIncomplete = errors.New("verification incomplete")
	// ErrNoPendingSignup: verify was called without a registration in
	// progress.
	ErrNoPendingSignup = errors.New("no pending signup")
)

type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (identity.SignInResult, error)
	SignUp(ctx context.Context, req identity.SignUpRequest) (identity.SignUpResult, error)
	PrepareVerification(ctx context.Context, signUpID string) error
	AttemptVerification(ctx context.Context, signUpID, code string) (identity.SignInResult, error)
	SessionActive(ctx context.Context, sessionID string) (bool, error)
	SignOut(ctx context.Context, sessionID string) error
}

type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (api.User, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.User, error)
}

// Handshake is the single writer of the cached Session.
type Handshake struct {
	identity IdentityProvider
	backend  Directory
	sessions session.Store
	// revalidateAfter bounds how long a cached Session is trusted without
	// re-checking the identity provider. Zero disables the short-circuit
	// entirely.
	revalidateAfter time.Duration
	now             func() time.Time
}

func New(provider IdentityProvider, backend Directory, sessions session.Store, revalidateAfter time.Duration) *Handshake {
	return &Handshake{
		identity:        provider,
		backend:         backend,
		sessions:        sessions,
		revalidateAfter: revalidateAfter,
		now:             time.Now,
	}
}

type Result struct {
	State    State
	Session  *session.Session
	Redirect string
}

type LoginInput struct {
	Email     string
	Password  string
	AdminOnly bool
}

// Resume re-establishes a session on mount, without credentials. A cached
// Session within its revalidation window is trusted as-is; past the window
// the identity provider is re-queried and the backend re-synced, so a revoked
// identity session cannot keep granting dashboard access indefinitely.
func (h *Handshake) Resume(ctx context.Context, sid string) (Result, error) {
	cached, err := h.sessions.Get(ctx, sid)
	if err != nil {
		return Result{State: StateAnonymous}, err
	}
	if cached == nil {
		return Result{State: StateAnonymous, Redirect: "/login"}, nil
	}

	if h.revalidateAfter > 0 && h.now().Sub(cached.SyncedAt) < h.revalidateAfter {
		return Result{State: StateSynced, Session: cached, Redirect: roleRedirect(cached.Role)}, nil
	}

	if cached.IdentitySessionID != "" {
		active, err := h.identity.SessionActive(ctx, cached.IdentitySessionID)
		if err != nil {
			return Result{State: StateSyncFailed}, err
		}
		if !active {
			_ = h.sessions.Delete(ctx, sid)
			return Result{State: StateAnonymous, Redirect: "/login"}, nil
		}
	}

	return h.sync(ctx, sid, cached.Email, cached.IdentitySessionID, false)
}

// Login runs the credential path: authenticate with the identity provider,
// then sync the backend record into the cache. "Session already exists" and
// second-factor prompts from the provider are soft successes; the sync
// proceeds regardless.
func (h *Handshake) Login(ctx context.Context, sid string, in LoginInput) (Result, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))

	identitySessionID, err := h.authenticate(ctx, sid, email, in.Password)
	if err != nil {
		return Result{State: StateAnonymous}, err
	}

	if email == "" {
		cached, cacheErr := h.sessions.Get(ctx, sid)
		if cacheErr == nil && cached != nil && cached.Email != "" {
			email = cached.Email
		}
	}
	if email == "" {
		// Cannot proceed; the caller must prompt for email.
		return Result{State: StateIdentityAuthenticated}, ErrEmailRequired
	}

	return h.sync(ctx, sid, email, identitySessionID, in.AdminOnly)
}

func (h *Handshake) authenticate(ctx context.Context, sid, email, password string) (string, error) {
	result, err := h.identity.SignIn(ctx, email, password)
	if err != nil {
		var provider *identity.Error
		if errors.As(err, &provider) && provider.Code == identity.StatusSessionExists {
			// Already signed in at the provider; carry on with the
			// session we have cached, if any.
			cached, cacheErr := h.sessions.Get(ctx, sid)
			if cacheErr == nil && cached != nil {
				return cached.IdentitySessionID, nil
			}
			return "", nil
		}
		return "", err
	}

	switch result.Status {
	case identity.StatusComplete, identity.StatusNeedsSecondFactor, identity.StatusSessionExists:
		return result.SessionID, nil
	default:
		return "", &identity.Error{Code: result.Status, Message: "sign-in incomplete"}
	}
}

// sync is the BackendSyncing transition. Whatever happens, it leaves no
// orphaned state: either a cache entry backed by a confirmed backend record,
// or no cache entry and no live identity session.
func (h *Handshake) sync(ctx context.Context, sid, email, identitySessionID string, adminOnly bool) (Result, error) {
	user, err := h.backend.FindUserByEmail(ctx, email)
	if err != nil {
		h.teardown(ctx, sid, identitySessionID)
		if errors.Is(err, api.ErrNotFound) {
			return Result{State: StateSyncFailed, Redirect: "/register"}, ErrRegistrationRequired
		}
		return Result{State: StateSyncFailed, Redirect: "/login"}, err
	}

	if adminOnly && user.Role != api.RoleAdmin {
		h.teardown(ctx, sid, identitySessionID)
		return Result{State: StateSyncFailed}, ErrAccessDenied
	}

	sess := session.Session{
		UserID:            user.ID,
		Name:              user.Name,
		Email:             user.Email,
		Username:          user.Username,
		Role:              user.Role,
		IdentitySessionID: identitySessionID,
		SyncedAt:          h.now().UTC(),
	}
	if err := h.sessions.Put(ctx, sid, sess); err != nil {
		h.teardown(ctx, sid, identitySessionID)
		return Result{State: StateSyncFailed, Redirect: "/login"}, err
	}

	return Result{State: StateSynced, Session: &sess, Redirect: roleRedirect(sess.Role)}, nil
}

// Register starts the two-step registration: create the provider sign-up and
// trigger the email code. No Session exists yet; the pending form data is
// parked until Verify.
func (h *Handshake) Register(ctx context.Context, sid string, pending session.PendingSignup) (Result, error) {
	first, last := splitName(pending.Name)
	signUp, err := h.identity.SignUp(ctx, identity.SignUpRequest{
		Email:     pending.Email,
		Password:  pending.Password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return Result{State: StateAnonymous}, err
	}
	if err := h.identity.PrepareVerification(ctx, signUp.SignUpID); err != nil {
		return Result{State: StateAnonymous}, err
	}

	pending.SignUpID = signUp.SignUpID
	if err := h.sessions.PutPending(ctx, sid, pending); err != nil {
		return Result{State: StateAnonymous}, err
	}
	return Result{State: StateIdentityPending}, nil
}

// Verify submits the email code and, on completion, creates the backend
// record and the Session. An identity sign-up whose backend registration
// fails is signed out again so no authenticated-but-unknown state survives.
func (h *Handshake) Verify(ctx context.Context, sid, code string) (Result, error) {
	pending, err := h.sessions.GetPending(ctx, sid)
	if err != nil {
		return Result{State: StateAnonymous}, err
	}
	if pending == nil {
		return Result{State: StateAnonymous}, ErrNoPendingSignup
	}

	result, err := h.identity.AttemptVerification(ctx, pending.SignUpID, code)
	if err != nil {
		return Result{State: StateIdentityPending}, err
	}
	if result.Status != identity.StatusComplete {
		return Result{State: StateIdentityPending}, ErrVerificationIncomplete
	}

	user, err := h.backend.Register(ctx, api.RegisterRequest{
		Name:     pending.Name,
		Email:    pending.Email,
		Password: pending.Password,
		Username: pending.Username,
		USN:      pending.USN,
		Bio:      pending.Bio,
		Role:     api.RoleStudent,
	})
	if err != nil {
		h.teardown(ctx, sid, result.SessionID)
		_ = h.sessions.DeletePending(ctx, sid)
		return Result{State: StateSyncFailed, Redirect: "/register"}, err
	}

	_ = h.sessions.DeletePending(ctx, sid)
	sess := session.Session{
		UserID:            user.ID,
		Name:              user.Name,
		Email:             user.Email,
		Username:          user.Username,
		Role:              user.Role,
		IdentitySessionID: result.SessionID,
		SyncedAt:          h.now().UTC(),
	}
	if err := h.sessions.Put(ctx, sid, sess); err != nil {
		h.teardown(ctx, sid, result.SessionID)
		return Result{State: StateSyncFailed, Redirect: "/login"}, err
	}
	return Result{State: StateSynced, Session: &sess, Redirect: roleRedirect(sess.Role)}, nil
}

// Logout clears the cached Session and terminates the identity-provider
// session, returning to Anonymous.
func (h *Handshake) Logout(ctx context.Context, sid string) (Result, error) {
	cached, err := h.sessions.Get(ctx, sid)
	if err != nil {
		return Result{State: StateAnonymous}, err
	}
	if cached != nil && cached.IdentitySessionID != "" {
		if err := h.identity.SignOut(ctx, cached.IdentitySessionID); err != nil {
			log.Printf("identity sign-out error: %v", err)
		}
	}
	if err := h.sessions.Delete(ctx, sid); err != nil {
		return Result{State: StateAnonymous}, err
	}
	return Result{State: StateAnonymous, Redirect: "/"}, nil
}

func (h *Handshake) teardown(ctx context.Context, sid, identitySessionID string) {
	if identitySessionID != "" {
		if err := h.identity.SignOut(ctx, identitySessionID); err != nil {
			log.Printf("identity sign-out error: %v", err)
		}
	}
	if err := h.sessions.Delete(ctx, sid); err != nil {
		log.Printf("session delete error: %v", err)
	}
}

func roleRedirect(role string) string {
	if role == api.RoleAdmin {
		return "/admin"
	}
	return "/dashboard"
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
