// Package batcher partitions ordered task lists into bounded batches for
// summarization. Batching is deterministic and order-preserving: the same
// input always yields the same batches, and concatenating all batches
// reproduces the input.
package batcher

import "github.com/kalambet/aide/internal/storage"

// recordOverhead approximates the fixed per-record cost (id, urgency,
// status, labels) in the formatted summary prompt.
const recordOverhead = 16

// EstimateSize returns a cheap length-based size proxy for one task. This
// is not true token counting; four characters per token is close enough to
// keep summary prompts inside a model's context window.
func EstimateSize(t storage.Task) int {
	return len(t.Description)/4 + recordOverhead
}

// Split greedily accumulates tasks into batches, starting a new batch
// whenever adding the next task would exceed maxCount records or maxSize
// estimated size. A single task larger than maxSize is still emitted, alone.
// Empty input yields no batches.
func Split(tasks []storage.Task, maxCount, maxSize int) [][]storage.Task {
	if len(tasks) == 0 {
		return nil
	}

	var batches [][]storage.Task
	var current []storage.Task
	currentSize := 0

	for _, t := range tasks {
		size := EstimateSize(t)
		if len(current) > 0 && (len(current) >= maxCount || currentSize+size > maxSize) {
			batches = append(batches, current)
			current = nil
			currentSize = 0
		}
		current = append(current, t)
		currentSize += size
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
