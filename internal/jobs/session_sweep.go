package jobs

import (
	"context"
	"log"
	"time"

	"apnastudent/portal/internal/config"
	"apnastudent/portal/internal/session"
)

type IdentitySessions interface {
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

type SweepStore interface {
	SessionIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, sid string) (*session.Session, error)
	Delete(ctx context.Context, sid string) error
}

// StartSessionSweepJob periodically revalidates cached sessions that are past
// their revalidation window against the identity provider, dropping any whose
// identity session has been revoked.
func StartSessionSweepJob(ctx context.Context, cfg config.Config, store SweepStore, provider IdentitySessions) {
	if !cfg.SessionSweepEnabled {
		return
	}
	if store == nil || provider == nil {
		log.Printf("session sweep disabled: store or identity client not configured")
		return
	}
	interval := cfg.SessionSweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.SessionSweepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				dropped, err := sweep(tickCtx, store, provider, cfg.SessionRevalidateAfter)
				cancel()
				if err != nil {
					log.Printf("session sweep error: %v", err)
					continue
				}
				if dropped > 0 {
					log.Printf("session sweep dropped %d revoked sessions", dropped)
				}
			}
		}
	}()
}

func sweep(ctx context.Context, store SweepStore, provider IdentitySessions, revalidateAfter time.Duration) (int, error) {
	ids, err := store.SessionIDs(ctx)
	if err != nil {
		return 0, err
	}
	dropped := 0
	now := time.Now()
	for _, sid := range ids {
		sess, err := store.Get(ctx, sid)
		if err != nil || sess == nil {
			continue
		}
		if sess.IdentitySessionID == "" {
			continue
		}
		if revalidateAfter > 0 && now.Sub(sess.SyncedAt) < revalidateAfter {
			continue
		}
		active, err := provider.SessionActive(ctx, sess.IdentitySessionID)
		if err != nil {
			log.Printf("session sweep check error for %s: %v", sid, err)
			continue
		}
		if active {
			continue
		}
		if err := store.Delete(ctx, sid); err != nil {
			log.Printf("session sweep delete error for %s: %v", sid, err)
			continue
		}
		dropped++
	}
	return dropped, nil
}
