// Command kernelctl is the debug console for a kernel substrate process
// dumped via cmd/kernel's --stats-out flag: a scriptable, non-interactive
// replacement for the teacher's kbd_daemon console and its sizedump()/
// netdump() commands (main.go), since a hosted process has no keyboard IRQ
// to drive a REPL loop from.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TomatOrg/TomatOS-sub001/internal/report"
)

func main() {
	var statsPath string

	root := &cobra.Command{
		Use:   "kernelctl",
		Short: "inspects a report.Report snapshot dumped by cmd/kernel --stats-out",
	}
	root.PersistentFlags().StringVar(&statsPath, "stats", "", "path to the JSON report (required)")
	_ = root.MarkPersistentFlagRequired("stats")

	load := func() (report.Report, error) {
		if statsPath == "" {
			return report.Report{}, fmt.Errorf("kernelctl: --stats is required")
		}
		return report.Load(statsPath)
	}

	pallocCmd := &cobra.Command{Use: "palloc", Short: "physical page allocator introspection"}
	pallocCmd.AddCommand(&cobra.Command{
		Use:   "stat",
		Short: "print the buddy allocator's free-list occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := load()
			if err != nil {
				return err
			}
			fmt.Printf("palloc: maxOrder=%d live=%d\n", r.Palloc.MaxOrder, r.Palloc.LiveAllocs)
			for order, n := range r.Palloc.FreeByOrder {
				if n == 0 {
					continue
				}
				fmt.Printf("  order %2d: %d free\n", order, n)
			}
			return nil
		},
	})

	eevdfCmd := &cobra.Command{Use: "eevdf", Short: "per-CPU EEVDF run queue introspection"}
	eevdfCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "print every simulated CPU's run-queue summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := load()
			if err != nil {
				return err
			}
			for _, cpu := range r.CPUs {
				status := "running"
				if cpu.Halted {
					status = "halted"
				}
				current := cpu.Current
				if current == "" {
					current = "-"
				}
				fmt.Printf("cpu %d [%s]: weights_sum=%d eligible=%d current=%s\n",
					cpu.ID, status, cpu.WeightsSum, cpu.Eligible, current)
			}
			return nil
		},
	})

	parkinglotCmd := &cobra.Command{Use: "parkinglot", Short: "parking-lot hash table introspection"}
	parkinglotCmd.AddCommand(&cobra.Command{
		Use:   "buckets",
		Short: "print parking-lot bucket occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := load()
			if err != nil {
				return err
			}
			stats := r.ParkingLot
			sort.Slice(stats, func(i, j int) bool { return stats[i].Index < stats[j].Index })
			occupied := 0
			for _, b := range stats {
				if b.Waiters > 0 {
					occupied++
					fmt.Printf("  bucket %3d: %d waiting\n", b.Index, b.Waiters)
				}
			}
			fmt.Printf("parking_lot: %d buckets, %d occupied, parks=%d unparks=%d\n",
				len(stats), occupied, r.Metrics.Parks, r.Metrics.Unparks)
			return nil
		},
	})

	root.AddCommand(pallocCmd, eevdfCmd, parkinglotCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
