package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/backup"
	"github.com/dmitrijs2005/fleetsync/internal/cryptox"
	"github.com/dmitrijs2005/fleetsync/internal/flagx"
)

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}

func (a *App) Backup(ctx context.Context) error {
	s, err := a.backups.CreateBackup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backup %d created: %d records, checksum %s\n", s.Timestamp, s.Metadata.RecordCount, s.Metadata.Checksum[:12])
	return nil
}

// Backups lists the history, newest first.
func (a *App) Backups(ctx context.Context) error {
	history, err := a.backups.History(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(a.out, "No backups yet")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTAKEN\tRECORDS\tCHECKSUM")
	for _, s := range history {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", s.Timestamp, formatTimestamp(s.Timestamp), s.Metadata.RecordCount, s.Metadata.Checksum[:12])
	}
	return w.Flush()
}

func (a *App) Stats(ctx context.Context) error {
	st, err := a.backups.BackupStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backups: %d, total size %d bytes\n", st.Count, st.Size)
	if st.Count > 0 {
		fmt.Fprintf(a.out, "Oldest: %s\nNewest: %s\n", st.Oldest.Local().Format(time.DateTime), st.Newest.Local().Format(time.DateTime))
	}
	return nil
}

// snapshotFor resolves an optional timestamp argument to a history entry;
// without one the latest backup is used.
func (a *App) snapshotFor(ctx context.Context, args []string) (backup.Snapshot, error) {
	if len(args) == 0 {
		return a.backups.Latest(ctx)
	}
	ts, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return backup.Snapshot{}, fmt.Errorf("invalid timestamp %q", args[0])
	}
	return a.backups.Get(ctx, ts)
}

// newPassphrase asks for a passphrase twice.
func (a *App) newPassphrase() ([]byte, error) {
	first, err := GetPassword(a.out, "Passphrase")
	if err != nil {
		return nil, err
	}
	second, err := GetPassword(a.out, "Repeat passphrase")
	if err != nil {
		cryptox.Wipe(first)
		return nil, err
	}
	defer cryptox.Wipe(second)
	if len(first) == 0 || !bytes.Equal(first, second) {
		cryptox.Wipe(first)
		return nil, errors.New("passphrases are empty or do not match")
	}
	return first, nil
}

// Export handles "export [timestamp] [--seal]".
func (a *App) Export(ctx context.Context, args []string) error {
	args, seal := cutFlag(args, "--seal")
	s, err := a.snapshotFor(ctx, args)
	if err != nil {
		return err
	}

	var opts backup.ExportOptions
	if seal {
		if opts.Passphrase, err = a.newPassphrase(); err != nil {
			return err
		}
		defer cryptox.Wipe(opts.Passphrase)
	}

	name, err := a.backups.ExportBackup(ctx, s, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backup %d exported as %s\n", s.Timestamp, name)
	return nil
}

func (a *App) Exports(ctx context.Context) error {
	objs, err := a.backups.ListExports(ctx)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		fmt.Fprintln(a.out, "No exported files")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, o := range objs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", o.Name, o.Size, o.ModTime.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// Import handles "import <file> [--restore]". A path that does not exist
// locally is looked up on the export target.
func (a *App) Import(ctx context.Context, args []string) error {
	args, restore := cutFlag(args, "--restore")
	if len(args) != 1 {
		return fmt.Errorf("%w: import <file> [--restore]", errUsage)
	}

	s, err := a.importFile(ctx, args[0])
	switch {
	case errors.Is(err, backup.ErrNotRetained):
		fmt.Fprintf(a.out, "Backup %d is valid (%d records) but older than every kept backup, not added to history\n", s.Timestamp, s.Metadata.RecordCount)
	case err != nil:
		return err
	default:
		fmt.Fprintf(a.out, "Backup %d imported: %d records\n", s.Timestamp, s.Metadata.RecordCount)
	}

	if !restore {
		return nil
	}
	if !Confirm(a.reader, "Restore it to the server now?", a.out) {
		return nil
	}
	report, err := a.backups.RestoreBackup(ctx, s, backup.RestoreOptions{})
	a.printRestoreReport(report)
	return err
}

func (a *App) importFile(ctx context.Context, name string) (backup.Snapshot, error) {
	b, err := a.readFile(name)
	switch {
	case err == nil:
		var pass []byte
		if backup.IsSealed(b) {
			if pass, err = GetPassword(a.out, "Passphrase"); err != nil {
				return backup.Snapshot{}, err
			}
			defer cryptox.Wipe(pass)
		}
		return a.backups.ImportBackup(ctx, bytes.NewReader(b), pass)

	case errors.Is(err, fs.ErrNotExist):
		s, err := a.backups.ImportFromArchive(ctx, name, nil)
		if !errors.Is(err, backup.ErrPassphraseRequired) {
			return s, err
		}
		pass, err := GetPassword(a.out, "Passphrase")
		if err != nil {
			return backup.Snapshot{}, err
		}
		defer cryptox.Wipe(pass)
		return a.backups.ImportFromArchive(ctx, name, pass)

	default:
		return backup.Snapshot{}, err
	}
}

// Restore handles "restore <timestamp> [--only a,b] [--clear]".
func (a *App) Restore(ctx context.Context, args []string) error {
	args, clearFirst := cutFlag(args, "--clear")
	args, only, err := cutValue(args, "--only")
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: restore <timestamp> [--only a,b] [--clear]", errUsage)
	}

	s, err := a.snapshotFor(ctx, args)
	if err != nil {
		return err
	}

	opts := backup.RestoreOptions{ClearExisting: clearFirst}
	if only != "" {
		if opts.Selective, err = backup.ParseCollections(flagx.SplitList(only)); err != nil {
			return err
		}
	}

	if clearFirst {
		scope := "all collections"
		if len(opts.Selective) > 0 {
			scope = only
		}
		if !Confirm(a.reader, "This deletes server records in "+scope+" before restoring. Continue?", a.out) {
			fmt.Fprintln(a.out, "Restore cancelled")
			return nil
		}
	}

	report, err := a.backups.RestoreBackup(ctx, s, opts)
	a.printRestoreReport(report)
	return err
}

func (a *App) printRestoreReport(r backup.RestoreReport) {
	if len(r.Collections) == 0 {
		return
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tTOTAL\tRESTORED\tFAILED\tNOTE")
	for _, c := range r.Collections {
		note := ""
		if c.Cleared {
			note = "cleared"
		}
		if c.Err != nil {
			note = c.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", c.Collection, c.Total, c.Restored, c.Failed, note)
	}
	_ = w.Flush()

	status := "completed"
	if !r.Success() {
		status = "completed with failures"
	}
	fmt.Fprintf(a.out, "Restore %s: %d restored, %d failed\n", status, r.Restored(), r.Failed())
}

// AutoBackup handles "autobackup start <hours>" and "autobackup stop".
func (a *App) AutoBackup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: autobackup start <hours> | stop", errUsage)
	}
	switch strings.ToLower(args[0]) {
	case "start":
		if len(args) != 2 {
			return fmt.Errorf("%w: autobackup start <hours>", errUsage)
		}
		hours, err := strconv.ParseFloat(args[1], 64)
		if err != nil || hours <= 0 {
			return fmt.Errorf("invalid interval %q", args[1])
		}
		interval := time.Duration(hours * float64(time.Hour))
		if err := a.backups.StartAutoBackup(ctx, interval); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Automatic backup every %s\n", interval)
	case "stop":
		a.backups.StopAutoBackup()
		fmt.Fprintln(a.out, "Automatic backup stopped")
	default:
		return fmt.Errorf("%w: autobackup start <hours> | stop", errUsage)
	}
	return nil
}
