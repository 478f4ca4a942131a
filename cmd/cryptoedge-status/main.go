// Command cryptoedge-status prints the current trading state without
// ever touching the running engine: it reads the same persisted state
// file the Trading State Machine writes, via internal/store's
// StatusReader. Grounded on the donor's internal/dashboard/terminal.go
// status-printer shape.
package main

import (
	"fmt"
	"os"

	"github.com/ot-clark/cryptoedge/internal/config"
	"github.com/ot-clark/cryptoedge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	path := cfg.Endpoints.StateFilePath
	if !cfg.Bot.DryRun {
		path = cfg.Endpoints.RealStateFilePath
	}

	reader := store.NewStatusReader(path)
	snap, err := reader.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status read failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("running:        %v\n", snap.IsRunning)
	fmt.Printf("balance:        %s\n", snap.CurrentBalance)
	fmt.Printf("realized pnl:   %s\n", snap.TotalRealizedPnl)
	fmt.Printf("open positions: %d\n", snap.OpenPositions)
	fmt.Printf("win/loss:       %d/%d\n", snap.WinCount, snap.LossCount)
	fmt.Printf("last update:    %s\n", snap.LastUpdate.Format("2006-01-02 15:04:05"))
	if snap.LastError != "" {
		fmt.Printf("last error:     %s\n", snap.LastError)
	}
}
