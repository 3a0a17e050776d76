package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"

	"github.com/dmitrijs2005/fleetsync/internal/client/archive"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/cryptox"
	"golang.org/x/sync/errgroup"
)

const (
	fileDateLayout = "2006-01-02"
	sealedFormat   = "fleetsync-sealed-backup"
	maxImportSize  = 256 << 20
)

// FileName is the export file name for a backup taken on the given day.
func FileName(day string) string {
	return "fleet-backup-" + day + ".json"
}

// sealedFile wraps an encrypted snapshot.
type sealedFile struct {
	Format string          `json:"format"`
	Sealed *cryptox.Sealed `json:"sealed"`
}

type ExportOptions struct {
	// Passphrase, when set, encrypts the file.
	Passphrase []byte
}

// Marshal serializes s in the export file format.
func Marshal(s Snapshot, passphrase []byte) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return b, nil
	}
	sealed, err := cryptox.Seal(b, passphrase)
	if err != nil {
		return nil, fmt.Errorf("seal backup: %w", err)
	}
	return json.MarshalIndent(sealedFile{Format: sealedFormat, Sealed: sealed}, "", "  ")
}

// ExportBackup writes s to the export target and returns the file name.
// History is not modified.
func (m *Manager) ExportBackup(ctx context.Context, s Snapshot, o ExportOptions) (string, error) {
	if m.archive == nil {
		return "", ErrNoArchive
	}
	if err := s.Verify(); err != nil {
		return "", err
	}
	b, err := Marshal(s, o.Passphrase)
	if err != nil {
		return "", err
	}
	name := FileName(m.now().UTC().Format(fileDateLayout))
	if err := m.archive.Put(ctx, name, b); err != nil {
		return "", fmt.Errorf("export backup: %w", err)
	}
	m.log.Info(ctx, "backup exported", "timestamp", s.Timestamp, "location", m.archive.Location(name), "sealed", len(o.Passphrase) > 0)
	return name, nil
}

// ImportBackup reads an export file, opening it with passphrase when it is
// sealed, validates it and adds it to the history. Any validation failure
// wraps ErrIntegrity. When the history is full and the snapshot is older
// than all of it, the snapshot is returned together with ErrNotRetained and
// the history is left as it was.
func (m *Manager) ImportBackup(ctx context.Context, r io.Reader, passphrase []byte) (Snapshot, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxImportSize))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read backup: %w", err)
	}
	s, err := m.decode(b, passphrase)
	if err != nil {
		m.metrics.ObserveImportRejected()
		return Snapshot{}, err
	}

	added := false
	if err := m.updateHistory(ctx, func(h []Snapshot) ([]Snapshot, error) {
		for _, existing := range h {
			if existing.Timestamp == s.Timestamp && existing.Metadata.Checksum == s.Metadata.Checksum {
				added = true
				return h, nil
			}
		}
		next := m.rotate(append([]Snapshot{s}, h...))
		added = slices.ContainsFunc(next, func(e Snapshot) bool {
			return e.Timestamp == s.Timestamp && e.Metadata.Checksum == s.Metadata.Checksum
		})
		if !added {
			return h, nil
		}
		return next, nil
	}); err != nil {
		return Snapshot{}, err
	}

	if !added {
		m.log.Info(ctx, "imported backup not retained", "timestamp", s.Timestamp)
		return s, ErrNotRetained
	}
	m.bus.Publish(notify.Event{Kind: notify.KindBackups, Action: notify.ActionCreated, ID: s.Timestamp, Message: "imported"})
	return s, nil
}

// ImportFromArchive imports a file previously exported to the target.
func (m *Manager) ImportFromArchive(ctx context.Context, name string, passphrase []byte) (Snapshot, error) {
	if m.archive == nil {
		return Snapshot{}, ErrNoArchive
	}
	b, err := m.archive.Get(ctx, name)
	if err != nil {
		return Snapshot{}, err
	}
	return m.ImportBackup(ctx, bytes.NewReader(b), passphrase)
}

// ListExports returns the export files found on the target, newest first.
func (m *Manager) ListExports(ctx context.Context) ([]archive.Object, error) {
	if m.archive == nil {
		return nil, ErrNoArchive
	}
	objs, err := m.archive.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(objs, func(a, b archive.Object) int { return b.ModTime.Compare(a.ModTime) })
	return objs, nil
}

// IsSealed reports whether b is an encrypted export.
func IsSealed(b []byte) bool {
	var probe struct {
		Format string `json:"format"`
	}
	return json.Unmarshal(b, &probe) == nil && probe.Format == sealedFormat
}

func (m *Manager) decode(b []byte, passphrase []byte) (Snapshot, error) {
	if !IsSealed(b) {
		return Parse(b)
	}
	var f sealedFile
	if err := json.Unmarshal(b, &f); err != nil || f.Sealed == nil {
		return Snapshot{}, fmt.Errorf("%w: sealed envelope", ErrMalformedBackup)
	}
	if len(passphrase) == 0 {
		return Snapshot{}, ErrPassphraseRequired
	}
	plain, err := cryptox.Open(f.Sealed, passphrase)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return Parse(plain)
}

type RestoreOptions struct {
	// Selective limits the restore to these collections; empty means all.
	Selective []Collection
	// ClearExisting empties each collection on the server before pushing.
	ClearExisting bool
}

// CollectionReport is the outcome for one collection.
type CollectionReport struct {
	Collection Collection
	Total      int
	Restored   int
	Failed     int
	Cleared    bool
	// Err is set when the collection was skipped or the run was cut short.
	Err error
}

type RestoreReport struct {
	Collections []CollectionReport
}

func (r RestoreReport) Restored() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Restored
	}
	return n
}

func (r RestoreReport) Failed() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Failed
		if c.Err != nil {
			n += c.Total - c.Restored - c.Failed
		}
	}
	return n
}

func (r RestoreReport) Success() bool {
	return r.Failed() == 0
}

// RestoreBackup pushes the records of s back to the server without their
// ids. Records go out in batches; a batch runs concurrently and completes
// before the pause that precedes the next one. Failures are reported per
// collection and nothing is rolled back.
func (m *Manager) RestoreBackup(ctx context.Context, s Snapshot, o RestoreOptions) (RestoreReport, error) {
	var report RestoreReport
	if err := s.Verify(); err != nil {
		return report, err
	}

	collections := Collections
	if len(o.Selective) > 0 {
		for _, c := range o.Selective {
			if !c.Valid() {
				return report, fmt.Errorf("unknown collection %q", c)
			}
		}
		collections = make([]Collection, 0, len(o.Selective))
		for _, c := range Collections {
			for _, sel := range o.Selective {
				if c == sel {
					collections = append(collections, c)
					break
				}
			}
		}
	}

	for _, c := range collections {
		cr := m.restoreCollection(ctx, s, c, o.ClearExisting)
		report.Collections = append(report.Collections, cr)
		m.metrics.ObserveRestore(string(c), cr.Restored, cr.Failed)

		if errors.Is(cr.Err, context.Canceled) || errors.Is(cr.Err, context.DeadlineExceeded) {
			return report, cr.Err
		}
		if cr.Restored > 0 || cr.Cleared {
			m.bus.Publish(notify.Event{Kind: kinds[c], Action: notify.ActionRestored, Message: fmt.Sprintf("%d records", cr.Restored)})
		}
	}

	m.log.Info(ctx, "restore finished", "timestamp", s.Timestamp, "restored", report.Restored(), "failed", report.Failed())
	return report, nil
}

func (m *Manager) restoreCollection(ctx context.Context, s Snapshot, c Collection, clearFirst bool) CollectionReport {
	items := s.Data.Get(c)
	cr := CollectionReport{Collection: c, Total: len(items)}

	if clearFirst {
		if err := m.api.Clear(ctx, c.Resource()); err != nil {
			m.log.Warn(ctx, "clear collection failed, skipping", "collection", c, "error", err)
			cr.Err = fmt.Errorf("clear %s: %w", c, err)
			return cr
		}
		cr.Cleared = true
	}

	var restored, failed atomic.Int64
	for start := 0; start < len(items); start += m.batchSize {
		if start > 0 {
			if err := m.sleep(ctx, m.batchPause); err != nil {
				cr.Err = err
				break
			}
		}
		end := min(start+m.batchSize, len(items))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := m.restoreRecord(ctx, s, c, i, items[i]); err != nil {
					failed.Add(1)
					m.log.Debug(ctx, "restore record failed", "collection", c, "index", i, "error", err)
					return nil
				}
				restored.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}

	cr.Restored = int(restored.Load())
	cr.Failed = int(failed.Load())
	return cr
}

func (m *Manager) restoreRecord(ctx context.Context, s Snapshot, c Collection, i int, rec json.RawMessage) error {
	body, err := stripID(rec)
	if err != nil {
		return err
	}
	// a repeated restore of the same snapshot reuses the same keys
	key := fmt.Sprintf("restore-%s-%s-%d", s.Metadata.Checksum[:16], c, i)
	_, err = m.api.Create(ctx, c.Resource(), body, key)
	return err
}
