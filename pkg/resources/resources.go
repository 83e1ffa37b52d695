// Package resources reports the host's CPU and memory so the pipeline can
// pick a worker count and warn before it runs out of memory.
package resources

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// Host describes the machine the pipeline runs on
type Host struct {
	CPUBrand      string
	PhysicalCores int
	LogicalCores  int
	TotalMemory   uint64
	FreeMemory    uint64
}

// Detect queries the CPU and memory of the current machine
func Detect() Host {
	h := Host{
		CPUBrand:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		TotalMemory:   memory.TotalMemory(),
		FreeMemory:    memory.FreeMemory(),
	}
	if h.LogicalCores <= 0 {
		h.LogicalCores = runtime.NumCPU()
	}
	if h.PhysicalCores <= 0 {
		h.PhysicalCores = h.LogicalCores
	}
	return h
}

// DefaultWorkers returns the number of goroutines filters should use
func (h Host) DefaultWorkers() int {
	if h.LogicalCores > 0 {
		return h.LogicalCores
	}
	return 1
}

// Available returns the memory the pipeline may use. Platforms that cannot
// report free memory fall back to the total.
func (h Host) Available() uint64 {
	if h.FreeMemory > 0 {
		return h.FreeMemory
	}
	return h.TotalMemory
}

// CheckFootprint returns an error when need bytes exceed the available memory.
// A host that reports no memory at all passes.
func (h Host) CheckFootprint(need uint64) error {
	avail := h.Available()
	if avail == 0 || need <= avail {
		return nil
	}
	return fmt.Errorf("estimated working set %s exceeds available memory %s", FormatBytes(need), FormatBytes(avail))
}

// PipelineFootprint estimates the peak bytes of a registration of two volumes
// with the given voxel counts. The fixed grid holds the input, its normalized
// and smoothed copies, the registered volume and the two outputs; the moving
// grid holds the input and its two prefiltered copies.
func PipelineFootprint(fixedVoxels, movingVoxels int) uint64 {
	const bytesPerVoxel = 4
	return uint64(6*fixedVoxels+3*movingVoxels) * bytesPerVoxel
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
