package backup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/stretchr/testify/mock"

	"github.com/MacJediWizard/freightdesk/internal/models"
)

// mockDumper implements DumpCreator for service tests.
type mockDumper struct {
	mock.Mock
}

func (m *mockDumper) CreateDump(ctx context.Context, filename string) (string, error) {
	args := m.Called(ctx, filename)
	return args.String(0), args.Error(1)
}

func (m *mockDumper) ValidateDump(path string) bool {
	return m.Called(path).Bool(0)
}

func (m *mockDumper) DumpSize(path string) int64 {
	return m.Called(path).Get(0).(int64)
}

// mockArchiver implements ArchiveCreator for service tests.
type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) BackupDirectory(ctx context.Context, dir, archiveName string) (string, error) {
	args := m.Called(ctx, dir, archiveName)
	return args.String(0), args.Error(1)
}

func (m *mockArchiver) CreatePreRestoreBackup(ctx context.Context, dirs []string, archiveName string) (string, error) {
	args := m.Called(ctx, dirs, archiveName)
	return args.String(0), args.Error(1)
}

func (m *mockArchiver) ValidateArchive(path string) bool {
	return m.Called(path).Bool(0)
}

func (m *mockArchiver) ArchiveSize(path string) int64 {
	return m.Called(path).Get(0).(int64)
}

// memStore is an in-memory RecordStore.
type memStore struct {
	mu        sync.Mutex
	backups   map[uuid.UUID]*models.Backup
	updates   []models.BackupStatus
	createErr error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{backups: make(map[uuid.UUID]*models.Backup)}
}

func (s *memStore) CreateBackup(_ context.Context, b *models.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *b
	s.backups[b.ID] = &cp
	return nil
}

func (s *memStore) UpdateBackup(_ context.Context, b *models.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.backups[b.ID] = &cp
	s.updates = append(s.updates, b.Status)
	return nil
}

func (s *memStore) GetBackupByID(_ context.Context, id uuid.UUID) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backups[id]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (s *memStore) sorted() []*models.Backup {
	out := make([]*models.Backup, 0, len(s.backups))
	for _, b := range s.backups {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListBackups(_ context.Context, limit int) ([]*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	all := s.sorted()
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) ListBackupsSince(_ context.Context, since time.Time) ([]*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Backup
	for _, b := range s.sorted() {
		if !b.CreatedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) CountBackups(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return 0, s.listErr
	}
	return len(s.backups), nil
}

func (s *memStore) GetLatestBackup(_ context.Context, status models.BackupStatus) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	for _, b := range s.sorted() {
		if status == "" || b.Status == status {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) only() *models.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.backups {
		return b
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backups)
}

type notFoundError struct{}

func (notFoundError) Error() string { return "backup not found" }

var errNotFound = notFoundError{}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	successes []uuid.UUID
	failures  []string
	panicOn   bool
	err       error
}

func (n *recordingNotifier) NotifySuccess(_ context.Context, b *models.Backup) error {
	if n.panicOn {
		panic("mail relay exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, b.ID)
	return n.err
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, _ *models.Backup, errMsg string) error {
	if n.panicOn {
		panic("mail relay exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, errMsg)
	return n.err
}

// fakeClock fires every wait immediately and records the requested durations.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.advance(d)
	return ch
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.advance(d)
	f()
	return &firedTimer{ch: make(chan time.Time, 1)}
}

func (c *fakeClock) NewTimer(d time.Duration) clock.Timer {
	ch := make(chan time.Time, 1)
	ch <- c.advance(d)
	return &firedTimer{ch: ch}
}

func (c *fakeClock) At(t time.Time) <-chan time.Time {
	return c.After(t.Sub(c.Now()))
}

func (c *fakeClock) AtFunc(t time.Time, f func()) clock.Alarm {
	c.advance(t.Sub(c.Now()))
	f()
	return &firedAlarm{ch: make(chan time.Time, 1)}
}

func (c *fakeClock) NewAlarm(t time.Time) clock.Alarm {
	ch := make(chan time.Time, 1)
	ch <- c.advance(t.Sub(c.Now()))
	return &firedAlarm{ch: ch}
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

type firedTimer struct {
	ch chan time.Time
}

func (t *firedTimer) Chan() <-chan time.Time   { return t.ch }
func (t *firedTimer) Reset(time.Duration) bool { return false }
func (t *firedTimer) Stop() bool               { return false }

type firedAlarm struct {
	ch chan time.Time
}

func (a *firedAlarm) Chan() <-chan time.Time { return a.ch }
func (a *firedAlarm) Reset(time.Time) bool   { return false }
func (a *firedAlarm) Stop() bool             { return false }

// fakeUsage is a fixed UsageMeter.
type fakeUsage struct {
	bytes int64
	err   error
}

func (u fakeUsage) UsedBytes(context.Context) (int64, error) {
	return u.bytes, u.err
}

// fakeUploader records uploaded paths.
type fakeUploader struct {
	paths []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, paths []string) ([]string, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.paths = append(u.paths, paths...)
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = "offsite/" + p
	}
	return keys, nil
}
