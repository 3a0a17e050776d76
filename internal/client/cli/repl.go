package cli

import (
	"bufio"
	"context"
	"fmt"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests provide a lightweight stub.
type execIface interface {
	Status(ctx context.Context) error
	List(ctx context.Context) error
	Pending(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Update(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Backup(ctx context.Context) error
	Backups(ctx context.Context) error
	Stats(ctx context.Context) error
	Export(ctx context.Context, args []string) error
	Exports(ctx context.Context) error
	Import(ctx context.Context, args []string) error
	Restore(ctx context.Context, args []string) error
	AutoBackup(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  status                                   connectivity and pending work
  (l)ist                                   registrations, pending ones marked
  pending                                  records waiting for sync
  add <fuel|maintenance|trip> key=value..  add a registration
  update <id> key=value..                  change a registration
  delete <id>                              delete a registration
  sync                                     push pending records now
  backup                                   take a backup
  backups                                  list backup history
  stats                                    backup history statistics
  export [timestamp] [--seal]              write a backup to the archive
  exports                                  list exported files
  import <file> [--restore]                import an exported backup
  restore <timestamp> [--only a,b] [--clear]
  autobackup start <hours> | stop
  exit | quit`

// runREPL reads one command per line from scanner and dispatches it to a.
// Errors returned by handlers are printed and the loop continues. The
// loop exits on scanner EOF or on "exit"/"quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("fleet %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts, err := splitFields(scanner.Text())
		if err != nil {
			printlnFn("Error:", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
		case "status":
			err = a.Status(ctx)
		case "l", "list":
			err = a.List(ctx)
		case "pending":
			err = a.Pending(ctx)
		case "add":
			err = a.Add(ctx, args)
		case "update":
			err = a.Update(ctx, args)
		case "delete":
			err = a.Delete(ctx, args)
		case "sync":
			err = a.Sync(ctx)
		case "backup":
			err = a.Backup(ctx)
		case "backups":
			err = a.Backups(ctx)
		case "stats":
			err = a.Stats(ctx)
		case "export":
			err = a.Export(ctx, args)
		case "exports":
			err = a.Exports(ctx)
		case "import":
			err = a.Import(ctx, args)
		case "restore":
			err = a.Restore(ctx, args)
		case "autobackup":
			err = a.AutoBackup(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
