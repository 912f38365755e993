package orchestrator

import (
	"github.com/listinglab/pagepull/internal/fetch"
)

// partition splits tasks into at most maxBatches contiguous batches
// whose sizes differ by at most one; any remainder lands one extra task
// per batch starting from the earliest. Empty batches are dropped.
func partition(tasks []fetch.PageTask, maxBatches int) [][]fetch.PageTask {
	if len(tasks) == 0 || maxBatches < 1 {
		return nil
	}
	if maxBatches > len(tasks) {
		maxBatches = len(tasks)
	}
	size := len(tasks) / maxBatches
	remainder := len(tasks) % maxBatches

	batches := make([][]fetch.PageTask, 0, maxBatches)
	start := 0
	for i := 0; i < maxBatches; i++ {
		end := start + size
		if i < remainder {
			end++
		}
		if end == start {
			continue
		}
		batches = append(batches, tasks[start:end])
		start = end
	}
	return batches
}
