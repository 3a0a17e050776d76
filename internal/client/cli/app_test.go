package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/backup"
	"github.com/dmitrijs2005/fleetsync/internal/client/config"
	"github.com/dmitrijs2005/fleetsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fleetsync/internal/client/notify"
	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
	"github.com/dmitrijs2005/fleetsync/internal/client/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMode_ChangesAndReportsOnce(t *testing.T) {
	ta := newTestApp(t, "")

	ta.setMode(ModeOnline)
	assert.Equal(t, ModeOnline, ta.Mode())
	assert.Contains(t, ta.out.String(), "Switched to online mode")

	ta.out.Reset()
	ta.setMode(ModeOnline)
	assert.Empty(t, ta.out.String())

	ta.setMode(ModeOffline)
	assert.Contains(t, ta.out.String(), "Switched to offline mode")
}

func TestGetStatus(t *testing.T) {
	ta := newTestApp(t, "")
	assert.Equal(t, "", ta.getStatus())

	ta.setMode(ModeOffline)
	assert.Equal(t, "(offline)", ta.getStatus())

	ta.backups.autoRunning = true
	assert.Equal(t, "(offline auto-backup)", ta.getStatus())
}

func TestPrintNotifications(t *testing.T) {
	ta := newTestApp(t, "")
	events := make(chan notify.Event, 4)
	events <- notify.Event{Kind: notify.KindConnectivity, Action: notify.ActionOnline}
	events <- notify.Event{Kind: notify.KindRegistrations, Action: notify.ActionSynced, Message: "2 synced, 0 failed, 0 held back"}
	events <- notify.Event{Kind: notify.KindRegistrations, Action: notify.ActionCreated}
	close(events)

	ta.printNotifications(context.Background(), events)

	assert.Equal(t, ModeOnline, ta.Mode())
	out := ta.out.String()
	assert.Contains(t, out, "[registrations synced] 2 synced")
	assert.NotContains(t, out, "created")
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ServerURL = "not a url"

	_, err := NewApp(cfg)
	require.Error(t, err)
}

func TestNewApp_WiresComponents(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StoreDriver = "memory"
	cfg.ArchiveDir = t.TempDir()
	cfg.MetricsAddr = "127.0.0.1:0"

	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })

	assert.NotNil(t, a.registry)
	assert.NotNil(t, a.regs)
	assert.NotNil(t, a.syncer)
	assert.NotNil(t, a.backups)
	assert.False(t, a.backups.AutoBackupRunning())
}

func TestStatus(t *testing.T) {
	ta := newTestApp(t, "")
	ta.probe.res = connectivity.Result{IsOnline: true, Source: connectivity.SourcePrimary, Endpoint: "http://fleet/api/ping", Latency: 12 * time.Millisecond}
	ta.probe.captive = true
	ta.regs.pending = []registrations.Registration{{ID: -1}}

	require.NoError(t, ta.Status(context.Background()))

	out := ta.out.String()
	assert.Contains(t, out, "online via primary http://fleet/api/ping (12ms)")
	assert.Contains(t, out, "captive portal")
	assert.Contains(t, out, "Pending records: 1")
	assert.Contains(t, out, "Auto backup: stopped")
	assert.Equal(t, ModeOnline, ta.Mode())

	ta.out.Reset()
	ta.probe.res = connectivity.Result{Err: connectivity.ErrNoNetwork}
	require.NoError(t, ta.Status(context.Background()))
	assert.Contains(t, ta.out.String(), "offline")
	assert.Equal(t, ModeOffline, ta.Mode())
}

func TestListAndPending(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, ta.List(ctx))
	assert.Contains(t, ta.out.String(), "No registrations")

	ta.regs.list = []registrations.Registration{
		{ID: 7, Type: registrations.TypeFuel, Date: "2024-05-01", VehicleID: 1, DriverID: 2, Liters: 30, FuelCost: 45},
		{ID: -1, Type: registrations.TypeTrip, Date: "2024-05-02", VehicleID: 1, DriverID: 2, Origin: "A", Destination: "B", OfflinePending: true, PendingOp: registrations.OpCreate},
	}
	ta.out.Reset()
	require.NoError(t, ta.List(ctx))
	out := ta.out.String()
	assert.Contains(t, out, "30.00 l")
	assert.Contains(t, out, "A -> B")
	assert.Contains(t, out, "pending create")

	ta.out.Reset()
	require.NoError(t, ta.Pending(ctx))
	assert.Contains(t, ta.out.String(), "Nothing to sync")
}

func TestAddUpdateDelete(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	ta.regs.res = registrations.AddResult{Success: true, Offline: true, ID: -1}
	require.NoError(t, ta.Add(ctx, []string{"fuel", "vehicle=1", "driver=2", "liters=10"}))
	assert.Equal(t, "2024-06-01", ta.regs.added.Date)
	assert.Equal(t, registrations.TypeFuel, ta.regs.added.Type)
	assert.Contains(t, ta.out.String(), "Registration -1 saved offline")

	require.ErrorIs(t, ta.Add(ctx, nil), errUsage)

	ta.regs.list = []registrations.Registration{{ID: 5, Type: registrations.TypeTrip, Origin: "A", Destination: "B", VehicleID: 1, DriverID: 1, Date: "2024-05-01"}}
	ta.regs.res = registrations.AddResult{Success: true, ID: 5}
	require.NoError(t, ta.Update(ctx, []string{"5", "destination=C"}))
	assert.Equal(t, "C", ta.regs.updated.Destination)
	assert.Equal(t, "A", ta.regs.updated.Origin)
	assert.Contains(t, ta.out.String(), "Registration 5 updated")

	require.ErrorIs(t, ta.Update(ctx, []string{"9", "origin=X"}), registrations.ErrNotFound)
	require.ErrorIs(t, ta.Update(ctx, []string{"5"}), errUsage)

	require.NoError(t, ta.Delete(ctx, []string{"5"}))
	assert.Equal(t, int64(5), ta.regs.deleted)
	require.Error(t, ta.Delete(ctx, []string{"five"}))
}

func TestSyncCommand(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	ta.sync.err = syncer.ErrOffline
	err := ta.Sync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Equal(t, ModeOffline, ta.Mode())

	ta.sync.err = nil
	ta.sync.res = syncer.Result{Success: false, SyncedCount: 2, Failed: 1, HeldBack: 1}
	require.NoError(t, ta.Sync(ctx))
	assert.Contains(t, ta.out.String(), "Synced 2, failed 1, held back 1")

	ta.sync.err = errors.New("disk full")
	require.ErrorContains(t, ta.Sync(ctx), "disk full")
}

func TestBackupCommands(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, ta.Backups(ctx))
	assert.Contains(t, ta.out.String(), "No backups yet")

	require.NoError(t, ta.Backup(ctx))
	assert.Contains(t, ta.out.String(), "Backup 1717236000000 created: 4 records")

	ta.out.Reset()
	require.NoError(t, ta.Backups(ctx))
	assert.Contains(t, ta.out.String(), "1717236000000")

	ta.out.Reset()
	require.NoError(t, ta.Stats(ctx))
	assert.Contains(t, ta.out.String(), "Backups: 1, total size 2048 bytes")
	assert.Contains(t, ta.out.String(), "Newest:")
}

func TestExportCommand(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	require.ErrorIs(t, ta.Export(ctx, nil), backup.ErrNotFound)

	ta.backups.history = []backup.Snapshot{testSnapshot(200, 1), testSnapshot(100, 1)}

	require.NoError(t, ta.Export(ctx, nil))
	assert.Equal(t, int64(200), ta.backups.exported.Timestamp)
	assert.Empty(t, ta.backups.exportOpts.Passphrase)
	assert.Contains(t, ta.out.String(), "exported as fleet-backup-2024-06-01.json")

	stubPassword(t, "pw")
	require.NoError(t, ta.Export(ctx, []string{"100", "--seal"}))
	assert.Equal(t, int64(100), ta.backups.exported.Timestamp)
	assert.Equal(t, []byte("pw"), ta.backups.exportOpts.Passphrase)

	require.Error(t, ta.Export(ctx, []string{"abc"}))
}

func TestExportCommand_PassphraseMismatch(t *testing.T) {
	ta := newTestApp(t, "")
	ta.backups.history = []backup.Snapshot{testSnapshot(200, 1)}

	answers := [][]byte{[]byte("one"), []byte("two")}
	orig := readPassword
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	t.Cleanup(func() { readPassword = orig })

	err := ta.Export(context.Background(), []string{"--seal"})
	require.ErrorContains(t, err, "do not match")
	assert.Zero(t, ta.backups.exported.Timestamp)
}

func TestImportCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("local plain file with restore", func(t *testing.T) {
		ta := newTestApp(t, "y\n")
		ta.files["/tmp/b.json"] = []byte(`{"version":"1.0.0"}`)
		ta.backups.report = backup.RestoreReport{Collections: []backup.CollectionReport{{Collection: backup.Vehicles, Total: 2, Restored: 2}}}

		require.NoError(t, ta.Import(ctx, []string{"/tmp/b.json", "--restore"}))
		assert.Equal(t, []byte(`{"version":"1.0.0"}`), ta.backups.imported)
		assert.Empty(t, ta.backups.importPass)
		assert.Equal(t, 1, ta.backups.restoreCalls)
		assert.Contains(t, ta.out.String(), "Restore completed: 2 restored, 0 failed")
	})

	t.Run("local sealed file asks for passphrase", func(t *testing.T) {
		ta := newTestApp(t, "")
		stubPassword(t, "pw")
		ta.files["sealed.json"] = []byte(`{"format":"fleetsync-sealed-backup","sealed":{}}`)

		require.NoError(t, ta.Import(ctx, []string{"sealed.json"}))
		assert.Equal(t, []byte("pw"), ta.backups.importPass)
		assert.Zero(t, ta.backups.restoreCalls)
	})

	t.Run("archive file retried with passphrase", func(t *testing.T) {
		ta := newTestApp(t, "n\n")
		stubPassword(t, "pw")

		require.NoError(t, ta.Import(ctx, []string{"fleet-backup-2024-06-01.json", "--restore"}))
		assert.Equal(t, "fleet-backup-2024-06-01.json", ta.backups.archiveName)
		require.Len(t, ta.backups.archivePass, 2)
		assert.Equal(t, []byte("pw"), ta.backups.archivePass[1])
		assert.Zero(t, ta.backups.restoreCalls, "declined restore")
	})

	t.Run("snapshot older than history is reported and can still be restored", func(t *testing.T) {
		ta := newTestApp(t, "y\n")
		ta.files["old.json"] = []byte(`{"version":"1.0.0"}`)
		ta.backups.importErr = backup.ErrNotRetained

		require.NoError(t, ta.Import(ctx, []string{"old.json", "--restore"}))
		out := ta.out.String()
		assert.Contains(t, out, "Backup 1717000000000 is valid (2 records) but older than every kept backup, not added to history")
		assert.NotContains(t, out, "imported:")
		assert.Equal(t, 1, ta.backups.restoreCalls)
		assert.Equal(t, int64(1717000000000), ta.backups.restored.Timestamp)
	})

	t.Run("import failure", func(t *testing.T) {
		ta := newTestApp(t, "")
		ta.files["bad.json"] = []byte(`{}`)
		ta.backups.err = backup.ErrMalformedBackup

		require.ErrorIs(t, ta.Import(ctx, []string{"bad.json"}), backup.ErrIntegrity)
	})

	t.Run("usage", func(t *testing.T) {
		ta := newTestApp(t, "")
		require.ErrorIs(t, ta.Import(ctx, nil), errUsage)
	})
}

func TestRestoreCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("selective with clear confirmed", func(t *testing.T) {
		ta := newTestApp(t, "yes\n")
		ta.backups.history = []backup.Snapshot{testSnapshot(300, 5)}
		ta.backups.report = backup.RestoreReport{Collections: []backup.CollectionReport{
			{Collection: backup.Vehicles, Total: 3, Restored: 3, Cleared: true},
			{Collection: backup.Drivers, Total: 2, Restored: 1, Failed: 1, Cleared: true},
		}}

		require.NoError(t, ta.Restore(ctx, []string{"300", "--only", "vehicles,drivers", "--clear"}))
		assert.Equal(t, []backup.Collection{backup.Vehicles, backup.Drivers}, ta.backups.restoreOpts.Selective)
		assert.True(t, ta.backups.restoreOpts.ClearExisting)
		out := ta.out.String()
		assert.Contains(t, out, "deletes server records in vehicles,drivers")
		assert.Contains(t, out, "completed with failures: 4 restored, 1 failed")
	})

	t.Run("clear declined", func(t *testing.T) {
		ta := newTestApp(t, "n\n")
		ta.backups.history = []backup.Snapshot{testSnapshot(300, 5)}

		require.NoError(t, ta.Restore(ctx, []string{"300", "--clear"}))
		assert.Zero(t, ta.backups.restoreCalls)
		assert.Contains(t, ta.out.String(), "Restore cancelled")
	})

	t.Run("invalid input", func(t *testing.T) {
		ta := newTestApp(t, "")
		ta.backups.history = []backup.Snapshot{testSnapshot(300, 5)}

		require.ErrorIs(t, ta.Restore(ctx, nil), errUsage)
		require.ErrorIs(t, ta.Restore(ctx, []string{"999"}), backup.ErrNotFound)
		require.ErrorContains(t, ta.Restore(ctx, []string{"300", "--only", "trucks"}), "unknown collection")
		assert.Zero(t, ta.backups.restoreCalls)
	})
}

func TestExportsCommand(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, ta.Exports(ctx))
	assert.Contains(t, ta.out.String(), "No exported files")

	ta.backups.err = backup.ErrNoArchive
	require.ErrorIs(t, ta.Exports(ctx), backup.ErrNoArchive)
}

func TestAutoBackupCommand(t *testing.T) {
	ta := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, ta.AutoBackup(ctx, []string{"start", "24"}))
	assert.Equal(t, 24*time.Hour, ta.backups.autoInterval)
	assert.True(t, ta.backups.autoRunning)

	require.NoError(t, ta.AutoBackup(ctx, []string{"start", "0.5"}))
	assert.Equal(t, 30*time.Minute, ta.backups.autoInterval)

	require.NoError(t, ta.AutoBackup(ctx, []string{"stop"}))
	assert.False(t, ta.backups.autoRunning)

	require.ErrorIs(t, ta.AutoBackup(ctx, nil), errUsage)
	require.ErrorIs(t, ta.AutoBackup(ctx, []string{"start"}), errUsage)
	require.Error(t, ta.AutoBackup(ctx, []string{"start", "-1"}))
	require.ErrorIs(t, ta.AutoBackup(ctx, []string{"pause"}), errUsage)

	assert.True(t, strings.Contains(ta.out.String(), "Automatic backup stopped"))
}
