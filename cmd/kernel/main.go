package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/TomatOrg/TomatOS-sub001/internal/bootinfo"
	"github.com/TomatOrg/TomatOS-sub001/internal/kconfig"
	"github.com/TomatOrg/TomatOS-sub001/internal/klog"
	"github.com/TomatOrg/TomatOS-sub001/internal/report"
)

func main() {
	var configPath string
	var statsOut string
	var ncpu int

	root := &cobra.Command{
		Use:   "kernel",
		Short: "boots the simulated kernel substrate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, statsOut, ncpu)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a kconfig YAML overlay (defaults built in if empty; the boot memory map is always the built-in default)")
	root.Flags().StringVar(&statsOut, "stats-out", "", "dump a JSON report.Report snapshot here on exit, for cmd/kernelctl to read")
	root.Flags().IntVar(&ncpu, "cpus", 1, "number of simulated CPUs to bring up")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildReport(k *Kernel) report.Report {
	r := report.Report{
		Metrics:    k.Metrics.Snapshot(),
		Palloc:     k.Pages.Stats(),
		ParkingLot: k.Lot.Stats(),
	}
	if k.Topo != nil {
		for _, cpu := range k.Topo.CPUs {
			stat := report.CPUStat{
				ID:         cpu.ID,
				WeightsSum: cpu.Queue.WeightsSum(),
				Eligible:   cpu.Queue.Len(),
				Halted:     cpu.Halted(),
			}
			if cur := cpu.Queue.Current(); cur != nil {
				stat.Current = fmt.Sprintf("priority=%d", cur.Priority)
			}
			r.CPUs = append(r.CPUs, stat)
		}
	}
	return r
}

func run(configPath, statsOut string, ncpu int) error {
	log := klog.New("kernel", nil)

	cfg := kconfig.Default()
	if configPath != "" {
		loaded, err := kconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("kernel: %w", err)
		}
		cfg = loaded
	}
	info := bootinfo.Default(cfg)

	k, err := Boot(cfg, info, log)
	if err != nil {
		return fmt.Errorf("kernel: %w", err)
	}

	fmt.Printf("              TomatOS-sub001\n")
	fmt.Printf("          go version: %v\n", runtime.Version())
	fmt.Printf("  %v MB of physical memory\n", info.UsableTotal()>>20)
	fmt.Printf("  %v CPU(s) simulated\n", ncpu)

	if k.Clock.UsingFallback() {
		log.Warn().Msg("timer: running on the time.Now() fallback source, not CLOCK_MONOTONIC_RAW")
	}

	k.StartCPUs(ncpu, klog.New("smp", nil))
	k.Topo.WaitAll()

	var haltErr error
	for _, cpu := range k.Topo.CPUs {
		if fe := cpu.HaltError(); fe != nil && haltErr == nil {
			haltErr = fmt.Errorf("kernel: cpu %d halted: %w", cpu.ID, fe)
		}
	}

	if statsOut != "" {
		if err := buildReport(k).WriteFile(statsOut); err != nil {
			return err
		}
	}
	return haltErr
}
