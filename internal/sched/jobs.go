package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/pkg/tl"
)

// Invoker submits one call. Defined here to avoid a dependency on the
// session package.
type Invoker interface {
	Invoke(ctx context.Context, req tl.Object) ([]byte, error)
}

// SessionSnapshotter produces the current persistable session state.
type SessionSnapshotter interface {
	SessionSnapshot(ctx context.Context) (*storage.Session, error)
}

// SessionAutosaveJob periodically writes the live session to storage so
// a crash loses at most one interval of state.
type SessionAutosaveJob struct {
	Source       SessionSnapshotter
	Store        storage.Storage
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*SessionAutosaveJob)(nil)

// Name implements Job.
func (j *SessionAutosaveJob) Name() string { return "session_autosave" }

// Schedule implements Job.
func (j *SessionAutosaveJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run snapshots and persists the session.
func (j *SessionAutosaveJob) Run(ctx context.Context) error {
	snap, err := j.Source.SessionSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("sched: snapshot session: %w", err)
	}
	if snap == nil {
		return nil
	}
	if err := j.Store.Save(ctx, snap); err != nil {
		return err
	}
	j.Logger.Debug("session autosaved", "dc", snap.DC)
	return nil
}

// SaltRefreshJob asks the server for upcoming salts ahead of rotation,
// so a salt expiry never costs a round trip on the hot path.
type SaltRefreshJob struct {
	Invoker Invoker

	// Apply installs the freshest currently-valid salt.
	Apply func(salt int64)

	Logger       *slog.Logger
	ScheduleExpr string           // empty = default "0 * * * *"
	Now          func() time.Time // injectable for testing
}

// Compile-time interface check.
var _ Job = (*SaltRefreshJob)(nil)

// Name implements Job.
func (j *SaltRefreshJob) Name() string { return "salt_refresh" }

// Schedule implements Job.
func (j *SaltRefreshJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run fetches future salts and applies the newest one already valid.
func (j *SaltRefreshJob) Run(ctx context.Context) error {
	raw, err := j.Invoker.Invoke(ctx, &tl.GetFutureSalts{Num: 8})
	if err != nil {
		return fmt.Errorf("sched: get future salts: %w", err)
	}
	obj, err := tl.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("sched: decode future salts: %w", err)
	}
	salts, ok := obj.(*tl.FutureSalts)
	if !ok {
		return fmt.Errorf("sched: unexpected answer %T to get_future_salts", obj)
	}

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	nowUnix := int32(now().Unix())

	// Newest salt whose validity window has opened.
	sorted := make([]tl.FutureSalt, len(salts.Salts))
	copy(sorted, salts.Salts)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ValidSince > sorted[b].ValidSince })
	for _, s := range sorted {
		if s.ValidSince <= nowUnix && nowUnix < s.ValidUntil {
			j.Apply(s.Salt)
			j.Logger.Debug("server salt refreshed", "valid_until", s.ValidUntil)
			return nil
		}
	}
	return nil
}
