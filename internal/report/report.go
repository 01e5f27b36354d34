// Package report defines the JSON snapshot cmd/kernel writes and
// cmd/kernelctl reads, standing in for the teacher's kbd_daemon debug
// console talking directly to live kernel state over a channel: a hosted
// CLI has no shared address space with a kernel process it wants to
// inspect, so the hand-off is a file instead of an in-process call.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/TomatOrg/TomatOS-sub001/internal/metrics"
	"github.com/TomatOrg/TomatOS-sub001/internal/palloc"
	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// CPUStat is one simulated CPU's run-queue summary, the fields
// cmd/kernelctl's "eevdf dump" subcommand prints.
type CPUStat struct {
	ID         int    `json:"id"`
	Current    string `json:"current,omitempty"`
	WeightsSum uint32 `json:"weights_sum"`
	Eligible   int    `json:"eligible"`
	Halted     bool   `json:"halted"`
}

// Report is the full point-in-time snapshot a running kernel can dump.
type Report struct {
	Metrics    metrics.Snapshot         `json:"metrics"`
	Palloc     palloc.Stats             `json:"palloc"`
	CPUs       []CPUStat                `json:"cpus"`
	ParkingLot []parkinglot.BucketStats `json:"parking_lot"`
}

// WriteFile marshals r as indented JSON to path.
func (r Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// Load reads and parses a Report previously written by WriteFile.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("report: read %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("report: parse %s: %w", path, err)
	}
	return r, nil
}
