// Package syncer pushes pending registrations to the server once it is
// reachable again.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fleetsync/internal/client/metrics"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"golang.org/x/sync/singleflight"
)

var ErrOffline = errors.New("server is not reachable")

type Cache interface {
	Pending(ctx context.Context) ([]registrations.Registration, error)
	HasPending(ctx context.Context) (bool, error)
	Confirm(ctx context.Context, id int64, server registrations.Registration) error
	Drop(ctx context.Context, id int64) error
	Load(ctx context.Context) ([]registrations.Registration, error)
}

type API interface {
	Create(ctx context.Context, r apiclient.Resource, record any, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, r apiclient.Resource, id int64, record any) (json.RawMessage, error)
	Delete(ctx context.Context, r apiclient.Resource, id int64) error
}

type Prober interface {
	Test(ctx context.Context) connectivity.Result
}

// Result summarizes one sync run. SyncedCount counts records that went
// from pending to confirmed. HeldBack counts records skipped because an
// earlier record of the same vehicle failed in this run.
type Result struct {
	Success     bool
	SyncedCount int
	Failed      int
	HeldBack    int
}

type Manager struct {
	cache   Cache
	api     API
	probe   Prober
	group   singleflight.Group
	log     logging.Logger
	bus     *notify.Bus
	metrics *metrics.Metrics
}

type Option func(*Manager)

func WithLogger(l logging.Logger) Option     { return func(m *Manager) { m.log = l } }
func WithBus(b *notify.Bus) Option           { return func(m *Manager) { m.bus = b } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(cache Cache, api API, probe Prober, opts ...Option) *Manager {
	m := &Manager{cache: cache, api: api, probe: probe, log: logging.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HasPendingWork reports whether any record waits for the server.
func (m *Manager) HasPendingWork(ctx context.Context) (bool, error) {
	return m.cache.HasPending(ctx)
}

// Sync pushes pending records in the order they were queued. Concurrent
// calls share a single run and its result.
func (m *Manager) Sync(ctx context.Context) (Result, error) {
	v, err, _ := m.group.Do("sync", func() (any, error) {
		return m.run(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

func (m *Manager) run(ctx context.Context) (Result, error) {
	if !m.probe.Test(ctx).IsOnline {
		m.metrics.ObserveSyncRun(false)
		return Result{}, ErrOffline
	}

	pending, err := m.cache.Pending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read pending: %w", err)
	}
	if len(pending) > 0 {
		m.log.Info(ctx, "sync started", "pending", len(pending))
	}

	var res Result
	held := make(map[int64]bool)
	for _, r := range pending {
		if held[r.VehicleID] {
			res.HeldBack++
			continue
		}

		err := m.push(ctx, r)
		m.metrics.ObserveSyncRecord(string(r.PendingOp), err == nil)
		if err == nil {
			res.SyncedCount++
			continue
		}

		var persistErr *persistError
		if errors.As(err, &persistErr) {
			return res, persistErr.err
		}
		m.log.Warn(ctx, "sync push failed", "id", r.ID, "op", r.PendingOp, "vehicleId", r.VehicleID, "error", err)
		res.Failed++
		held[r.VehicleID] = true
	}

	if _, err := m.cache.Load(ctx); err != nil {
		return res, fmt.Errorf("reload registrations: %w", err)
	}

	res.Success = res.Failed == 0 && res.HeldBack == 0
	m.metrics.ObserveSyncRun(res.Success)
	if len(pending) > 0 {
		m.log.Info(ctx, "sync finished", "synced", res.SyncedCount, "failed", res.Failed, "heldBack", res.HeldBack)
		m.bus.Publish(notify.Event{
			Kind:    notify.KindRegistrations,
			Action:  notify.ActionSynced,
			Message: fmt.Sprintf("%d synced, %d failed, %d held back", res.SyncedCount, res.Failed, res.HeldBack),
		})
	}
	return res, nil
}

// persistError marks a local write failure, which aborts the run.
type persistError struct{ err error }

func (e *persistError) Error() string { return e.err.Error() }

func (m *Manager) push(ctx context.Context, r registrations.Registration) error {
	switch r.PendingOp {
	case registrations.OpDelete:
		if err := m.api.Delete(ctx, apiclient.Registrations, r.ID); err != nil && !isGone(err) {
			return err
		}
		if err := m.cache.Drop(ctx, r.ID); err != nil {
			return &persistError{err}
		}
		return nil

	case registrations.OpUpdate:
		body, err := m.api.Update(ctx, apiclient.Registrations, r.ID, r.Payload())
		if err != nil {
			return err
		}
		server := r.Payload()
		server.ID = r.ID
		if len(body) > 0 {
			if server, err = registrations.FromServer(body, r); err != nil {
				return err
			}
		}
		return m.confirm(ctx, r.ID, server)

	default:
		body, err := m.api.Create(ctx, apiclient.Registrations, r.Payload(), r.LocalRef)
		if err != nil {
			return err
		}
		server, err := registrations.FromServer(body, r)
		if err != nil {
			return err
		}
		return m.confirm(ctx, r.ID, server)
	}
}

func (m *Manager) confirm(ctx context.Context, id int64, server registrations.Registration) error {
	if err := m.cache.Confirm(ctx, id, server); err != nil {
		return &persistError{err}
	}
	return nil
}

func isGone(err error) bool {
	var se *apiclient.StatusError
	return errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone)
}

// WatchReconnect tests connectivity every interval until ctx is done and
// runs Sync whenever the server comes back with pending work.
func (m *Manager) WatchReconnect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := m.probe.Test(ctx).IsOnline
	for {
		select {
		case <-ticker.C:
			now := m.probe.Test(ctx).IsOnline
			if now == online {
				continue
			}
			online = now

			if !online {
				m.bus.Publish(notify.Event{Kind: notify.KindConnectivity, Action: notify.ActionOffline})
				continue
			}
			m.bus.Publish(notify.Event{Kind: notify.KindConnectivity, Action: notify.ActionOnline})

			has, err := m.HasPendingWork(ctx)
			if err != nil {
				m.log.Error(ctx, "check pending work", "error", err)
				continue
			}
			if !has {
				continue
			}
			if _, err := m.Sync(ctx); err != nil {
				m.log.Warn(ctx, "reconnect sync failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
