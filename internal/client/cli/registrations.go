package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
	"github.com/dmitrijs2005/fleetsync/internal/client/syncer"
)

// Status runs a fresh connectivity test and reports pending work.
func (a *App) Status(ctx context.Context) error {
	res := a.probe.Test(ctx)
	if res.IsOnline {
		a.setMode(ModeOnline)
		fmt.Fprintf(a.out, "Connectivity: online via %s %s (%s)\n", res.Source, res.Endpoint, res.Latency.Round(time.Millisecond))
		if a.probe.DetectCaptivePortal(ctx) {
			fmt.Fprintln(a.out, "Warning: a captive portal seems to intercept traffic")
		}
	} else {
		a.setMode(ModeOffline)
		fmt.Fprintf(a.out, "Connectivity: offline (%v)\n", res.Err)
	}

	pending, err := a.regs.Pending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Pending records: %d\n", len(pending))

	auto := "stopped"
	if a.backups.AutoBackupRunning() {
		auto = "running"
	}
	fmt.Fprintf(a.out, "Auto backup: %s\n", auto)
	return nil
}

func (a *App) printRegistrations(list []registrations.Registration) {
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No registrations")
		return
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tDATE\tVEHICLE\tDRIVER\tDETAILS\tSTATE")
	for _, r := range list {
		state := "synced"
		if r.OfflinePending {
			state = "pending " + string(r.PendingOp)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n", r.ID, r.Type, r.Date, r.VehicleID, r.DriverID, details(r), state)
	}
	_ = w.Flush()
}

func details(r registrations.Registration) string {
	switch r.Type {
	case registrations.TypeFuel:
		return fmt.Sprintf("%.2f l, %.2f", r.Liters, r.FuelCost)
	case registrations.TypeMaintenance:
		return fmt.Sprintf("type %d, %.2f %s", r.MaintenanceTypeID, r.Cost, r.Description)
	case registrations.TypeTrip:
		return fmt.Sprintf("%s -> %s", r.Origin, r.Destination)
	}
	return ""
}

// List shows the merged view, refreshed from the server when online.
func (a *App) List(ctx context.Context) error {
	list, err := a.regs.Load(ctx)
	if err != nil {
		return err
	}
	a.printRegistrations(list)
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	list, err := a.regs.Pending(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "Nothing to sync")
		return nil
	}
	a.printRegistrations(list)
	return nil
}

func (a *App) reportWrite(verb string, res registrations.AddResult) {
	if res.Offline {
		fmt.Fprintf(a.out, "Registration %d %s offline, it will sync when the server is reachable\n", res.ID, verb)
		return
	}
	fmt.Fprintf(a.out, "Registration %d %s\n", res.ID, verb)
}

// Add handles "add <type> key=value...".
func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: add <fuel|maintenance|trip> key=value...", errUsage)
	}
	r, err := newRegistration(args[0], args[1:], a.now())
	if err != nil {
		return err
	}
	res, err := a.regs.Add(ctx, r)
	if err != nil {
		return err
	}
	a.reportWrite("saved", res)
	return nil
}

// Update handles "update <id> key=value...". Unnamed fields keep their
// current values.
func (a *App) Update(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: update <id> key=value...", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	kv, err := parseKeyValues(args[1:])
	if err != nil {
		return err
	}
	r, err := a.regs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := applyFields(&r, kv); err != nil {
		return err
	}
	res, err := a.regs.Update(ctx, r)
	if err != nil {
		return err
	}
	a.reportWrite("updated", res)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <id>", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	res, err := a.regs.Delete(ctx, id)
	if err != nil {
		return err
	}
	a.reportWrite("deleted", res)
	return nil
}

// Sync pushes pending records now.
func (a *App) Sync(ctx context.Context) error {
	res, err := a.syncer.Sync(ctx)
	if errors.Is(err, syncer.ErrOffline) {
		a.setMode(ModeOffline)
		return errors.New("server is unreachable, pending records stay queued")
	}
	if err != nil {
		return err
	}
	a.setMode(ModeOnline)
	fmt.Fprintf(a.out, "Synced %d, failed %d, held back %d\n", res.SyncedCount, res.Failed, res.HeldBack)
	return nil
}
