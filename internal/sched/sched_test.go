package sched

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nexgram/nexgram/internal/storage"
	"github.com/nexgram/nexgram/pkg/tl"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubJob struct {
	name     string
	schedule string
}

func (j *stubJob) Name() string                { return j.name }
func (j *stubJob) Schedule() string            { return j.schedule }
func (j *stubJob) Run(_ context.Context) error { return nil }

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	s := NewScheduler(discardLogger())
	if err := s.RegisterJob(&stubJob{name: "a", schedule: "* * * * *"}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	err := s.RegisterJob(&stubJob{name: "a", schedule: "* * * * *"})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("error = %v, want duplicate name rejection", err)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(discardLogger())
	if err := s.RegisterJob(&stubJob{name: "bad", schedule: "not a schedule"}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(discardLogger())
	if err := s.RegisterJob(&stubJob{name: "ok", schedule: "* * * * *"}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

type fakeSnapshotter struct {
	snap *storage.Session
	err  error
}

func (f *fakeSnapshotter) SessionSnapshot(_ context.Context) (*storage.Session, error) {
	return f.snap, f.err
}

func TestAutosaveJobPersistsSnapshot(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	snap := &storage.Session{
		DC:      2,
		AuthKey: bytes.Repeat([]byte{7}, 256),
		UserID:  1234,
	}
	job := &SessionAutosaveJob{
		Source: &fakeSnapshotter{snap: snap},
		Store:  st,
		Logger: discardLogger(),
	}

	if got := job.Schedule(); got != "*/5 * * * *" {
		t.Fatalf("default schedule = %q", got)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	loaded, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DC != 2 || loaded.UserID != 1234 {
		t.Fatalf("persisted %+v", loaded)
	}
}

func TestAutosaveJobSkipsNilSnapshot(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	job := &SessionAutosaveJob{
		Source: &fakeSnapshotter{snap: nil},
		Store:  st,
		Logger: discardLogger(),
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := st.Load(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("nil snapshot was persisted")
	}
}

func TestAutosaveJobPropagatesSnapshotError(t *testing.T) {
	t.Parallel()

	job := &SessionAutosaveJob{
		Source: &fakeSnapshotter{err: errors.New("not connected")},
		Store:  storage.NewMemory(),
		Logger: discardLogger(),
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected snapshot error")
	}
}

type saltInvoker struct {
	answer tl.Object
}

func (s *saltInvoker) Invoke(_ context.Context, req tl.Object) ([]byte, error) {
	if _, ok := req.(*tl.GetFutureSalts); !ok {
		return nil, errors.New("unexpected request")
	}
	return tl.Marshal(s.answer), nil
}

func TestSaltRefreshAppliesNewestValidSalt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	nowUnix := int32(now.Unix())

	var applied []int64
	job := &SaltRefreshJob{
		Invoker: &saltInvoker{answer: &tl.FutureSalts{
			ReqMsgID: 1,
			Now:      nowUnix,
			Salts: []tl.FutureSalt{
				{ValidSince: nowUnix - 3600, ValidUntil: nowUnix + 600, Salt: 100},
				{ValidSince: nowUnix - 60, ValidUntil: nowUnix + 3600, Salt: 200},
				{ValidSince: nowUnix + 600, ValidUntil: nowUnix + 7200, Salt: 300},
			},
		}},
		Apply:  func(salt int64) { applied = append(applied, salt) },
		Logger: discardLogger(),
		Now:    func() time.Time { return now },
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(applied) != 1 || applied[0] != 200 {
		t.Fatalf("applied %v, want the newest valid salt 200", applied)
	}
}

func TestSaltRefreshIgnoresNotYetValidSalts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	nowUnix := int32(now.Unix())

	applied := 0
	job := &SaltRefreshJob{
		Invoker: &saltInvoker{answer: &tl.FutureSalts{
			Salts: []tl.FutureSalt{
				{ValidSince: nowUnix + 60, ValidUntil: nowUnix + 3600, Salt: 1},
			},
		}},
		Apply:  func(int64) { applied++ },
		Logger: discardLogger(),
		Now:    func() time.Time { return now },
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied %d salts, want 0", applied)
	}
}
