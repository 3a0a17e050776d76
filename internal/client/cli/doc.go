// Package cli provides the interactive fleetsync command-line client.
//
// It wires configuration, the local store, the connectivity probe, the
// registration cache, the sync manager and the backup manager behind a
// small REPL. Registrations keep working offline and are pushed once the
// server is reachable again.
//
// Key features:
//   - List / add / update / delete fuel, maintenance and trip registrations
//   - Manual and reconnect-triggered sync of pending records
//   - Backups: create, list, stats, export (optionally sealed), import, restore
//   - Scheduled automatic backups
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
