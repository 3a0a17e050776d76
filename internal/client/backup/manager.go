// Package backup creates integrity-checked snapshots of the fleet dataset,
// keeps a bounded history of them, exports and imports them as files and
// restores them through the REST API.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/client/archive"
	"github.com/dmitrijs2005/fleetsync/internal/client/kvstore"
	"github.com/dmitrijs2005/fleetsync/internal/client/metrics"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/common"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetention  = 10
	DefaultBatchSize  = 50
	DefaultBatchPause = 500 * time.Millisecond
)

var (
	ErrNotFound  = errors.New("backup not found")
	ErrNoArchive = errors.New("no export target configured")
	// ErrNotRetained accompanies a valid imported snapshot that is older than
	// every backup in a full history and so was not kept.
	ErrNotRetained = errors.New("backup is older than every retained backup and was not kept")
)

// API is the subset of the REST client backups need.
type API interface {
	List(ctx context.Context, r apiclient.Resource) ([]json.RawMessage, error)
	Create(ctx context.Context, r apiclient.Resource, record any, idempotencyKey string) (json.RawMessage, error)
	Clear(ctx context.Context, r apiclient.Resource) error
}

type Options struct {
	Retention  int
	BatchSize  int
	BatchPause time.Duration
	Archive    archive.Store

	Clock   func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  logging.Logger
	Bus     *notify.Bus
	Metrics *metrics.Metrics
}

type Manager struct {
	store kvstore.Store
	api   API
	key   string

	retention  int
	batchSize  int
	batchPause time.Duration
	archive    archive.Store

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	log     logging.Logger
	bus     *notify.Bus
	metrics *metrics.Metrics

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

func NewManager(store kvstore.Store, api API, o Options) *Manager {
	m := &Manager{
		store:      store,
		api:        api,
		key:        common.BackupHistoryKey,
		retention:  o.Retention,
		batchSize:  o.BatchSize,
		batchPause: o.BatchPause,
		archive:    o.Archive,
		now:        o.Clock,
		sleep:      o.Sleep,
		log:        o.Logger,
		bus:        o.Bus,
		metrics:    o.Metrics,
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}
	switch {
	case m.batchPause == 0:
		m.batchPause = DefaultBatchPause
	case m.batchPause < 0:
		m.batchPause = 0
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateBackup fetches every collection concurrently and stores the
// snapshot at the head of the history. A collection that cannot be
// fetched is stored as empty.
func (m *Manager) CreateBackup(ctx context.Context) (Snapshot, error) {
	fetched := make([][]json.RawMessage, len(Collections))
	failed := make([]error, len(Collections))

	var g errgroup.Group
	for i, c := range Collections {
		g.Go(func() error {
			items, err := m.api.List(ctx, c.Resource())
			if err != nil {
				failed[i] = err
				return nil
			}
			fetched[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var data Data
	partial := false
	for i, c := range Collections {
		if failed[i] != nil {
			partial = true
			m.log.Warn(ctx, "backup collection unavailable, stored empty", "collection", c, "error", failed[i])
		}
		data.set(c, fetched[i])
	}

	snap, err := newSnapshot(m.now().UnixMilli(), data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build snapshot: %w", err)
	}

	if err := m.updateHistory(ctx, func(h []Snapshot) ([]Snapshot, error) {
		// keep timestamps unique so they can address history entries
		if len(h) > 0 && snap.Timestamp <= h[0].Timestamp {
			snap.Timestamp = h[0].Timestamp + 1
		}
		return m.rotate(append([]Snapshot{snap}, h...)), nil
	}); err != nil {
		return Snapshot{}, err
	}

	m.metrics.ObserveBackup(snap.Metadata.RecordCount, partial)
	m.log.Info(ctx, "backup created", "timestamp", snap.Timestamp, "records", snap.Metadata.RecordCount, "partial", partial)
	m.bus.Publish(notify.Event{Kind: notify.KindBackups, Action: notify.ActionCreated, ID: snap.Timestamp})
	return snap, nil
}

// rotate evicts the oldest snapshots, by timestamp, beyond retention.
func (m *Manager) rotate(h []Snapshot) []Snapshot {
	for len(h) > m.retention {
		oldest := 0
		for i := range h {
			if h[i].Timestamp < h[oldest].Timestamp {
				oldest = i
			}
		}
		h = slices.Delete(h, oldest, oldest+1)
	}
	return h
}

func decodeHistory(b []byte) ([]Snapshot, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h []Snapshot
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode backup history: %w", err)
	}
	return h, nil
}

func (m *Manager) updateHistory(ctx context.Context, fn func([]Snapshot) ([]Snapshot, error)) error {
	return m.store.Update(ctx, m.key, func(current []byte) ([]byte, error) {
		h, err := decodeHistory(current)
		if err != nil {
			return nil, err
		}
		h, err = fn(h)
		if err != nil {
			return nil, err
		}
		return json.Marshal(h)
	})
}

// History returns stored snapshots, newest first.
func (m *Manager) History(ctx context.Context) ([]Snapshot, error) {
	b, err := m.store.Get(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("read backup history: %w", err)
	}
	h, err := decodeHistory(b)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(h, func(a, b Snapshot) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		}
		return 0
	})
	return h, nil
}

// Get returns the snapshot with the given timestamp.
func (m *Manager) Get(ctx context.Context, timestamp int64) (Snapshot, error) {
	h, err := m.History(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, s := range h {
		if s.Timestamp == timestamp {
			return s, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %d", ErrNotFound, timestamp)
}

// Latest returns the newest snapshot.
func (m *Manager) Latest(ctx context.Context) (Snapshot, error) {
	h, err := m.History(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if len(h) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return h[0], nil
}

// Stats summarizes the stored history.
type Stats struct {
	Count  int
	Size   int64
	Oldest time.Time
	Newest time.Time
}

// BackupStats reports on the history without touching the network. Size
// approximates the stored bytes.
func (m *Manager) BackupStats(ctx context.Context) (Stats, error) {
	b, err := m.store.Get(ctx, m.key)
	if err != nil {
		return Stats{}, fmt.Errorf("read backup history: %w", err)
	}
	h, err := decodeHistory(b)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Count: len(h), Size: int64(len(b))}
	for i, s := range h {
		ts := time.UnixMilli(s.Timestamp)
		if i == 0 || ts.Before(st.Oldest) {
			st.Oldest = ts
		}
		if i == 0 || ts.After(st.Newest) {
			st.Newest = ts
		}
	}
	return st, nil
}

// StartAutoBackup creates a backup every interval until StopAutoBackup is
// called or ctx ends. Starting again replaces the running schedule.
func (m *Manager) StartAutoBackup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("auto backup interval must be positive, got %s", interval)
	}
	m.StopAutoBackup()

	m.autoMu.Lock()
	defer m.autoMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.autoCancel, m.autoDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.CreateBackup(ctx); err != nil {
					m.log.Error(ctx, "auto backup failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	m.log.Info(ctx, "auto backup started", "interval", interval)
	return nil
}

// StopAutoBackup stops the schedule and waits for it to exit. It is a
// no-op when nothing runs.
func (m *Manager) StopAutoBackup() {
	m.autoMu.Lock()
	cancel, done := m.autoCancel, m.autoDone
	m.autoCancel, m.autoDone = nil, nil
	m.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) AutoBackupRunning() bool {
	m.autoMu.Lock()
	defer m.autoMu.Unlock()
	if m.autoDone == nil {
		return false
	}
	select {
	case <-m.autoDone:
		return false
	default:
		return true
	}
}
