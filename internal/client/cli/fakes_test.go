package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/archive"
	"github.com/dmitrijs2005/fleetsync/internal/client/backup"
	"github.com/dmitrijs2005/fleetsync/internal/client/config"
	"github.com/dmitrijs2005/fleetsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
	"github.com/dmitrijs2005/fleetsync/internal/client/syncer"
)

type fakeRegs struct {
	list    []registrations.Registration
	pending []registrations.Registration
	res     registrations.AddResult
	err     error

	added   registrations.Registration
	updated registrations.Registration
	deleted int64
}

func (f *fakeRegs) Load(context.Context) ([]registrations.Registration, error) {
	return f.list, f.err
}
func (f *fakeRegs) Cached(context.Context) ([]registrations.Registration, error) {
	return f.list, f.err
}
func (f *fakeRegs) Get(_ context.Context, id int64) (registrations.Registration, error) {
	for _, r := range f.list {
		if r.ID == id {
			return r, nil
		}
	}
	return registrations.Registration{}, registrations.ErrNotFound
}
func (f *fakeRegs) Add(_ context.Context, r registrations.Registration) (registrations.AddResult, error) {
	f.added = r
	return f.res, f.err
}
func (f *fakeRegs) Update(_ context.Context, r registrations.Registration) (registrations.AddResult, error) {
	f.updated = r
	return f.res, f.err
}
func (f *fakeRegs) Delete(_ context.Context, id int64) (registrations.AddResult, error) {
	f.deleted = id
	return f.res, f.err
}
func (f *fakeRegs) Pending(context.Context) ([]registrations.Registration, error) {
	return f.pending, f.err
}

type fakeSync struct {
	res   syncer.Result
	err   error
	calls int
}

func (f *fakeSync) Sync(context.Context) (syncer.Result, error) {
	f.calls++
	return f.res, f.err
}
func (f *fakeSync) WatchReconnect(ctx context.Context, _ time.Duration) { <-ctx.Done() }

type fakeBackups struct {
	history []backup.Snapshot
	exports []archive.Object
	err     error
	// importErr is returned by ImportBackup alongside its snapshot.
	importErr error

	exported     backup.Snapshot
	exportOpts   backup.ExportOptions
	imported     []byte
	importPass   []byte
	archiveName  string
	archivePass  [][]byte
	restored     backup.Snapshot
	restoreOpts  backup.RestoreOptions
	restoreCalls int
	report       backup.RestoreReport
	autoInterval time.Duration
	autoRunning  bool
}

func (f *fakeBackups) CreateBackup(context.Context) (backup.Snapshot, error) {
	if f.err != nil {
		return backup.Snapshot{}, f.err
	}
	s := testSnapshot(1717236000000, 4)
	f.history = append([]backup.Snapshot{s}, f.history...)
	return s, nil
}
func (f *fakeBackups) History(context.Context) ([]backup.Snapshot, error) { return f.history, f.err }
func (f *fakeBackups) Get(_ context.Context, ts int64) (backup.Snapshot, error) {
	for _, s := range f.history {
		if s.Timestamp == ts {
			return s, nil
		}
	}
	return backup.Snapshot{}, backup.ErrNotFound
}
func (f *fakeBackups) Latest(context.Context) (backup.Snapshot, error) {
	if len(f.history) == 0 {
		return backup.Snapshot{}, backup.ErrNotFound
	}
	return f.history[0], nil
}
func (f *fakeBackups) BackupStats(context.Context) (backup.Stats, error) {
	st := backup.Stats{Count: len(f.history), Size: 2048}
	if len(f.history) > 0 {
		st.Newest = time.UnixMilli(f.history[0].Timestamp)
		st.Oldest = time.UnixMilli(f.history[len(f.history)-1].Timestamp)
	}
	return st, nil
}
func (f *fakeBackups) ExportBackup(_ context.Context, s backup.Snapshot, o backup.ExportOptions) (string, error) {
	f.exported = s
	f.exportOpts = backup.ExportOptions{Passphrase: bytes.Clone(o.Passphrase)}
	return "fleet-backup-2024-06-01.json", f.err
}
func (f *fakeBackups) ListExports(context.Context) ([]archive.Object, error) { return f.exports, f.err }
func (f *fakeBackups) ImportBackup(_ context.Context, r io.Reader, pass []byte) (backup.Snapshot, error) {
	f.imported, _ = io.ReadAll(r)
	f.importPass = bytes.Clone(pass)
	if f.err != nil {
		return backup.Snapshot{}, f.err
	}
	return testSnapshot(1717000000000, 2), f.importErr
}
func (f *fakeBackups) ImportFromArchive(_ context.Context, name string, pass []byte) (backup.Snapshot, error) {
	f.archiveName = name
	f.archivePass = append(f.archivePass, bytes.Clone(pass))
	if len(pass) == 0 {
		return backup.Snapshot{}, backup.ErrPassphraseRequired
	}
	return testSnapshot(1717000000000, 2), nil
}
func (f *fakeBackups) RestoreBackup(_ context.Context, s backup.Snapshot, o backup.RestoreOptions) (backup.RestoreReport, error) {
	f.restoreCalls++
	f.restored = s
	f.restoreOpts = o
	return f.report, f.err
}
func (f *fakeBackups) StartAutoBackup(_ context.Context, d time.Duration) error {
	f.autoInterval = d
	f.autoRunning = true
	return nil
}
func (f *fakeBackups) StopAutoBackup()         { f.autoRunning = false }
func (f *fakeBackups) AutoBackupRunning() bool { return f.autoRunning }

type fakeProbe struct {
	res     connectivity.Result
	captive bool
}

func (f *fakeProbe) Test(context.Context) connectivity.Result { return f.res }
func (f *fakeProbe) DetectCaptivePortal(context.Context) bool { return f.captive }

func testSnapshot(ts int64, records int) backup.Snapshot {
	return backup.Snapshot{
		Version:   backup.Version,
		Timestamp: ts,
		Metadata:  backup.Metadata{RecordCount: records, Checksum: strings.Repeat("ab", 32)},
	}
}

type testApp struct {
	*App
	out     *bytes.Buffer
	regs    *fakeRegs
	sync    *fakeSync
	backups *fakeBackups
	probe   *fakeProbe
	files   map[string][]byte
}

// newTestApp builds an App over fakes. input feeds prompts such as
// confirmations.
func newTestApp(t *testing.T, input string) *testApp {
	t.Helper()
	ta := &testApp{
		out:     &bytes.Buffer{},
		regs:    &fakeRegs{},
		sync:    &fakeSync{},
		backups: &fakeBackups{},
		probe:   &fakeProbe{},
		files:   map[string][]byte{},
	}
	cfg := &config.Config{}
	cfg.LoadDefaults()
	ta.App = &App{
		config:  cfg,
		probe:   ta.probe,
		regs:    ta.regs,
		syncer:  ta.sync,
		backups: ta.backups,
		reader:  bufio.NewReader(strings.NewReader(input)),
		out:     ta.out,
		now:     func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) },
		readFile: func(name string) ([]byte, error) {
			if b, ok := ta.files[name]; ok {
				return b, nil
			}
			return nil, fs.ErrNotExist
		},
	}
	return ta
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { readPassword = orig })
}
