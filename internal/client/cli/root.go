package cli

import (
	"bufio"
	"context"
	"fmt"
)

func (a *App) getStatus() string {
	s := string(a.Mode())
	if a.backups != nil && a.backups.AutoBackupRunning() {
		s += " auto-backup"
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root runs the REPL on scanner until the user exits or input ends.
func (a *App) Root(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Fprintln(a.out, "Welcome to fleetsync (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, scanner)
}
