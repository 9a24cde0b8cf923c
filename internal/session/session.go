// Package session holds the portal's cached belief about the authenticated
// user. The record is written only by the auth-sync handshake and logout;
// every view reads it.
package session

import (
	"context"
	"time"
)

type Session struct {
	UserID            int64     `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Username          string    `json:"username"`
	Role              string    `json:"role"`
	IdentitySessionID string    `json:"identitySessionId,omitempty"`
	SyncedAt          time.Time `json:"syncedAt"`
}

// Pending sign-ups outlive their usefulness quickly; both stores age them
// out after this window.
const pendingTTL = 15 * time.Minute

// PendingSignup tracks a registration between the details step and the
// email-code verification step. No Session exists until the backend sync
// completes.
type PendingSignup struct {
	SignUpID string `json:"signUpId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	USN      string `json:"usn"`
	Bio      string `json:"bio"`
}

// Store persists one Session record per portal session id. Get returns
// (nil, nil) when no record exists; absence means Anonymous.
type Store interface {
	Get(ctx context.Context, sid string) (*Session, error)
	Put(ctx context.Context, sid string, sess Session) error
	Delete(ctx context.Context, sid string) error

	GetPending(ctx context.Context, sid string) (*PendingSignup, error)
	PutPending(ctx context.Context, sid string, pending PendingSignup) error
	DeletePending(ctx context.Context, sid string) error
}

// Lister enumerates live session ids, for the revalidation sweep.
type Lister interface {
	SessionIDs(ctx context.Context) ([]string, error)
}
