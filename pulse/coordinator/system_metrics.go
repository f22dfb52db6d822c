package coordinator

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/windturbine/errors"
)

// SystemMetrics tracks resource usage for coordinator monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently executing a step
	WorkersTotal  int     `json:"workers_total"`   // Configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	StepsQueued   int     `json:"steps_queued"`    // Step attempts waiting for a worker
	RunsActive    int     `json:"runs_active"`     // Runs not yet terminal
	RunsRetained  int     `json:"runs_retained"`   // Finished results held for Await
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for available memory.
// Steps are I/O bound; each worker is budgeted for one open destination
// connection and one decoded artifact.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.25 // GB per concurrent step
	const memoryBuffer = 1.0     // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 worker
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// SystemMetrics returns current resource usage
func (c *Coordinator) SystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	c.mu.Lock()
	active, retained := len(c.active), len(c.finished)
	c.mu.Unlock()

	return SystemMetrics{
		WorkersActive: int(c.pool.active.Load()),
		WorkersTotal:  c.cfg.Workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		StepsQueued:   c.pool.queue.len(),
		RunsActive:    active,
		RunsRetained:  retained,
	}
}

// checkMemoryPressure validates worker count against available memory.
// Returns a warning message if the worker count may be too high, empty string if OK.
func (c *Coordinator) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if c.cfg.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing pulse.workers to prevent memory pressure.",
			c.cfg.Workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
