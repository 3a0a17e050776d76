package registrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/apiclient"
	"github.com/dmitrijs2005/fleetsync/internal/client/kvstore"
	"github.com/dmitrijs2005/fleetsync/internal/client/metrics"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/common"
	"github.com/dmitrijs2005/fleetsync/internal/logging"
	"github.com/google/uuid"
)

// API is the subset of the REST client the cache needs.
type API interface {
	List(ctx context.Context, r apiclient.Resource) ([]json.RawMessage, error)
	Create(ctx context.Context, r apiclient.Resource, record any, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, r apiclient.Resource, id int64, record any) (json.RawMessage, error)
	Delete(ctx context.Context, r apiclient.Resource, id int64) error
}

// Connectivity tells whether the server is currently reachable.
type Connectivity interface {
	IsOnline(ctx context.Context) bool
}

// AddResult reports how a write was applied. Offline is true when the
// record was kept locally as pending; ID is then a temporary id.
type AddResult struct {
	Success bool
	Offline bool
	ID      int64
}

// state is the persisted blob.
type state struct {
	NextSeq int64          `json:"nextTempSeq"`
	Records []Registration `json:"records"`
}

func (s *state) index(id int64) int {
	return slices.IndexFunc(s.Records, func(r Registration) bool { return r.ID == id })
}

// Cache is the local view of registrations.
type Cache struct {
	store   kvstore.Store
	api     API
	conn    Connectivity
	key     string
	now     func() time.Time
	newRef  func() string
	log     logging.Logger
	bus     *notify.Bus
	metrics *metrics.Metrics
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option   { return func(c *Cache) { c.now = now } }
func WithLogger(l logging.Logger) Option      { return func(c *Cache) { c.log = l } }
func WithBus(b *notify.Bus) Option            { return func(c *Cache) { c.bus = b } }
func WithMetrics(m *metrics.Metrics) Option   { return func(c *Cache) { c.metrics = m } }
func WithRefGenerator(f func() string) Option { return func(c *Cache) { c.newRef = f } }

func NewCache(store kvstore.Store, api API, conn Connectivity, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		api:    api,
		conn:   conn,
		key:    common.RegistrationsKey,
		now:    time.Now,
		newRef: uuid.NewString,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) read(ctx context.Context) (state, error) {
	var s state
	b, err := c.store.Get(ctx, c.key)
	if err != nil {
		return s, fmt.Errorf("read registrations: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode registrations: %w", err)
	}
	return s, nil
}

// mutate applies fn to the persisted state atomically.
func (c *Cache) mutate(ctx context.Context, fn func(*state) error) (state, error) {
	var out state
	err := c.store.Update(ctx, c.key, func(current []byte) ([]byte, error) {
		var s state
		if len(current) > 0 {
			if err := json.Unmarshal(current, &s); err != nil {
				return nil, fmt.Errorf("decode registrations: %w", err)
			}
		}
		if err := fn(&s); err != nil {
			return nil, err
		}
		out = s
		return json.Marshal(s)
	})
	if err != nil {
		return state{}, err
	}
	c.metrics.SetPending(countPending(out.Records))
	return out, nil
}

func countPending(records []Registration) int {
	n := 0
	for _, r := range records {
		if r.OfflinePending {
			n++
		}
	}
	return n
}

func (c *Cache) publish(action notify.Action, id int64, msg string) {
	c.bus.Publish(notify.Event{Kind: notify.KindRegistrations, Action: action, ID: id, Message: msg})
}

// Load returns the merged view. Online it refreshes from the server and
// persists the result; offline, or when the list fails, it returns the
// last persisted view. Writes that land while the list is in flight, such
// as a sync confirming a record, are kept over the older server list.
func (c *Cache) Load(ctx context.Context) ([]Registration, error) {
	if !c.conn.IsOnline(ctx) {
		return c.Cached(ctx)
	}

	before, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	server, err := c.fetch(ctx)
	if err != nil {
		c.log.Warn(ctx, "registrations list failed, using cached view", "error", err)
		return visible(before.Records), nil
	}

	s, err := c.mutate(ctx, func(s *state) error {
		s.Records = Merge(freshen(server, before.Records, s.Records), s.Records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return visible(s.Records), nil
}

// Cached returns the persisted view without touching the network.
func (c *Cache) Cached(ctx context.Context) ([]Registration, error) {
	s, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return visible(s.Records), nil
}

func (c *Cache) fetch(ctx context.Context) ([]Registration, error) {
	raw, err := c.api.List(ctx, apiclient.Registrations)
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(raw))
	for _, item := range raw {
		var r Registration
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("decode registration: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Get returns a visible record by id.
func (c *Cache) Get(ctx context.Context, id int64) (Registration, error) {
	s, err := c.read(ctx)
	if err != nil {
		return Registration{}, err
	}
	i := s.index(id)
	if i < 0 || s.Records[i].Deleted() {
		return Registration{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return s.Records[i], nil
}

// Add creates a registration. Online it is posted to the server; any
// failure to do so keeps it locally as pending with a temporary id.
func (c *Cache) Add(ctx context.Context, r Registration) (AddResult, error) {
	if err := r.Validate(); err != nil {
		return AddResult{}, err
	}
	r.ID = 0
	if r.LocalRef == "" {
		r.LocalRef = c.newRef()
	}

	if c.conn.IsOnline(ctx) {
		created, err := c.create(ctx, r)
		if err == nil {
			if _, err := c.mutate(ctx, func(s *state) error {
				upsert(s, created)
				return nil
			}); err != nil {
				return AddResult{}, err
			}
			c.publish(notify.ActionCreated, created.ID, "")
			return AddResult{Success: true, ID: created.ID}, nil
		}
		c.log.Warn(ctx, "registration create failed, storing offline", "localRef", r.LocalRef, "error", err)
	}

	c.metrics.ObserveOfflineFallback()
	var id int64
	if _, err := c.mutate(ctx, func(s *state) error {
		s.NextSeq++
		id = -s.NextSeq
		r.ID = id
		c.markPending(&r, OpCreate, s.NextSeq)
		r.OfflineCreated = true
		s.Records = append(s.Records, r)
		return nil
	}); err != nil {
		return AddResult{}, err
	}

	c.publish(notify.ActionCreated, id, "stored offline")
	return AddResult{Success: true, Offline: true, ID: id}, nil
}

func (c *Cache) create(ctx context.Context, r Registration) (Registration, error) {
	body, err := c.api.Create(ctx, apiclient.Registrations, r.Payload(), r.LocalRef)
	if err != nil {
		return Registration{}, err
	}
	return FromServer(body, r)
}

// FromServer decodes the server copy of local, keeping the local identity
// when the server does not echo it.
func FromServer(body []byte, local Registration) (Registration, error) {
	var out Registration
	if err := json.Unmarshal(body, &out); err != nil {
		return Registration{}, fmt.Errorf("decode server registration: %w", err)
	}
	if out.ID <= 0 {
		return Registration{}, errors.New("server registration has no id")
	}
	if out.LocalRef == "" {
		out.LocalRef = local.LocalRef
	}
	return out.Payload().withID(out.ID), nil
}

func (r Registration) withID(id int64) Registration {
	r.ID = id
	return r
}

func (c *Cache) markPending(r *Registration, op PendingOp, seq int64) {
	r.OfflinePending = true
	r.OfflineTimestamp = c.now().UnixMilli()
	r.PendingOp = op
	r.PendingSeq = seq
}

func upsert(s *state, r Registration) {
	if i := s.index(r.ID); i >= 0 {
		s.Records[i] = r
		return
	}
	s.Records = append(s.Records, r)
}

// Update changes an existing registration. A record that is still a
// pending create is edited in place; otherwise the update goes to the
// server, or is queued when that fails.
func (c *Cache) Update(ctx context.Context, r Registration) (AddResult, error) {
	if err := r.Validate(); err != nil {
		return AddResult{}, err
	}
	current, err := c.Get(ctx, r.ID)
	if err != nil {
		return AddResult{}, err
	}
	r.LocalRef = current.LocalRef

	if !current.IsTemp() && c.conn.IsOnline(ctx) {
		updated, err := c.update(ctx, r)
		if err == nil {
			if _, err := c.mutate(ctx, func(s *state) error {
				upsert(s, updated)
				return nil
			}); err != nil {
				return AddResult{}, err
			}
			c.publish(notify.ActionUpdated, updated.ID, "")
			return AddResult{Success: true, ID: updated.ID}, nil
		}
		c.log.Warn(ctx, "registration update failed, storing offline", "id", r.ID, "error", err)
	}

	c.metrics.ObserveOfflineFallback()
	if _, err := c.mutate(ctx, func(s *state) error {
		i := s.index(r.ID)
		if i < 0 || s.Records[i].Deleted() {
			return fmt.Errorf("%w: id %d", ErrNotFound, r.ID)
		}
		prev := s.Records[i]
		if prev.OfflinePending {
			// keep the queue position and the original operation
			r.OfflinePending = true
			r.OfflineCreated = prev.OfflineCreated
			r.OfflineTimestamp = c.now().UnixMilli()
			r.PendingOp = prev.PendingOp
			r.PendingSeq = prev.PendingSeq
		} else {
			s.NextSeq++
			c.markPending(&r, OpUpdate, s.NextSeq)
		}
		s.Records[i] = r
		return nil
	}); err != nil {
		return AddResult{}, err
	}

	c.publish(notify.ActionUpdated, r.ID, "stored offline")
	return AddResult{Success: true, Offline: true, ID: r.ID}, nil
}

func (c *Cache) update(ctx context.Context, r Registration) (Registration, error) {
	body, err := c.api.Update(ctx, apiclient.Registrations, r.ID, r.Payload())
	if err != nil {
		return Registration{}, err
	}
	if len(body) == 0 {
		return r.Payload().withID(r.ID), nil
	}
	return FromServer(body, r)
}

// Delete removes a registration. A pending create is simply dropped since
// the server never saw it; otherwise the delete goes to the server or is
// queued as a tombstone.
func (c *Cache) Delete(ctx context.Context, id int64) (AddResult, error) {
	current, err := c.Get(ctx, id)
	if err != nil {
		return AddResult{}, err
	}

	if current.IsTemp() {
		if err := c.Drop(ctx, id); err != nil {
			return AddResult{}, err
		}
		c.publish(notify.ActionDeleted, id, "")
		return AddResult{Success: true, Offline: true, ID: id}, nil
	}

	if c.conn.IsOnline(ctx) {
		err := c.api.Delete(ctx, apiclient.Registrations, id)
		if err == nil || isGone(err) {
			if err := c.Drop(ctx, id); err != nil {
				return AddResult{}, err
			}
			c.publish(notify.ActionDeleted, id, "")
			return AddResult{Success: true, ID: id}, nil
		}
		c.log.Warn(ctx, "registration delete failed, storing offline", "id", id, "error", err)
	}

	c.metrics.ObserveOfflineFallback()
	if _, err := c.mutate(ctx, func(s *state) error {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		r := s.Records[i]
		seq := r.PendingSeq
		if !r.OfflinePending {
			s.NextSeq++
			seq = s.NextSeq
		}
		c.markPending(&r, OpDelete, seq)
		s.Records[i] = r
		return nil
	}); err != nil {
		return AddResult{}, err
	}

	c.publish(notify.ActionDeleted, id, "stored offline")
	return AddResult{Success: true, Offline: true, ID: id}, nil
}

// isGone reports a server answer meaning the record no longer exists.
func isGone(err error) bool {
	var se *apiclient.StatusError
	return errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone)
}

// Pending returns pending records, including deletes, in the order they
// were queued.
func (c *Cache) Pending(ctx context.Context) ([]Registration, error) {
	s, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	var out []Registration
	for _, r := range s.Records {
		if r.OfflinePending {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Registration) int {
		switch {
		case a.PendingSeq < b.PendingSeq:
			return -1
		case a.PendingSeq > b.PendingSeq:
			return 1
		}
		return 0
	})
	return out, nil
}

// HasPending reports whether anything waits for the server.
func (c *Cache) HasPending(ctx context.Context) (bool, error) {
	s, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	return countPending(s.Records) > 0, nil
}

// Confirm replaces the pending record id with the server copy. Once
// confirmed the temporary id is gone, so a repeated Confirm returns
// ErrNotFound and changes nothing.
func (c *Cache) Confirm(ctx context.Context, id int64, server Registration) error {
	_, err := c.mutate(ctx, func(s *state) error {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		if server.LocalRef == "" {
			server.LocalRef = s.Records[i].LocalRef
		}
		server = server.Payload().withID(server.ID)
		// the server copy may already be present after a reload
		if j := s.index(server.ID); j >= 0 && j != i {
			s.Records = slices.Delete(s.Records, j, j+1)
			if j < i {
				i--
			}
		}
		s.Records[i] = server
		return nil
	})
	return err
}

// Drop removes a record from the cache entirely.
func (c *Cache) Drop(ctx context.Context, id int64) error {
	_, err := c.mutate(ctx, func(s *state) error {
		if i := s.index(id); i >= 0 {
			s.Records = slices.Delete(s.Records, i, i+1)
		}
		return nil
	})
	return err
}
