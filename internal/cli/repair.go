package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyrelabs/gyre/internal/config"
	"github.com/gyrelabs/gyre/internal/lock"
	"github.com/gyrelabs/gyre/internal/repair"
	"github.com/gyrelabs/gyre/internal/spiral"
	"github.com/gyrelabs/gyre/internal/store"
)

var repairJSON bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Audit spiral statistics against the node store and correct drift",
	Long:  "Repair scans every memory node, recomputes each spiral's statistics from scratch, and overwrites any cached value that drifted. Drift is corrected, not treated as failure: the exit code is zero unless the scan itself fails.",
	RunE:  runRepair,
}

func init() {
	repairCmd.Flags().BoolVar(&repairJSON, "json", false, "emit the full report as JSON")
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	index := spiral.NewIndex(db, nil)
	lk := lock.New(db, lock.Options{
		LeaseTTL:       cfg.Lock.LeaseTTL.Std(),
		AcquireTimeout: cfg.Lock.AcquireTimeout.Std(),
		RetryInterval:  cfg.Lock.RetryInterval.Std(),
	})
	report, err := repair.New(db, index, lk, cfg.Repair.Epsilon).Rebuild(cmd.Context())
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	if repairJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

func printReport(report *repair.Report) {
	for _, s := range report.Spirals {
		if !s.Corrected {
			fmt.Printf("%-12s clean (%d nodes)\n", s.SpiralID, s.After.NodeCount)
			continue
		}
		fmt.Printf("%-12s corrected\n", s.SpiralID)
		fmt.Printf("  node count:    %d -> %d\n", s.Before.NodeCount, s.After.NodeCount)
		fmt.Printf("  average depth: %.6f -> %.6f\n", s.Before.AverageDepth, s.After.AverageDepth)
		fmt.Printf("  radius:        %.6f -> %.6f\n", s.Before.CurrentRadius, s.After.CurrentRadius)
		fmt.Printf("  total turns:   %d -> %d\n", s.Before.TotalTurns, s.After.TotalTurns)
	}

	fmt.Printf("scanned %d nodes in %s (%.0f nodes/sec)\n",
		report.TotalNodesScanned, report.Duration, report.NodesPerSecond())
	if report.DriftDetected() {
		fmt.Println("drift detected and corrected")
	} else {
		fmt.Println("no drift detected")
	}
}
