package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/aide/internal/batcher"
	"github.com/kalambet/aide/internal/storage"
)

// BatchSummary pairs one debrief batch with its model-written summary.
type BatchSummary struct {
	Tasks   []storage.Task
	Summary string
}

// ErrNoSummarizer is returned when debrief is requested but no summary
// backend is configured.
var ErrNoSummarizer = errors.New("no summarization backend configured")

// Debrief loads open tasks highest urgency first, partitions them into
// bounded batches, and summarizes each batch sequentially. Half-completed
// tasks surface before pending ones within the same urgency level so that
// work in flight is not forgotten. No open tasks yields no batches and no
// error.
func (a *Agent) Debrief(ctx context.Context) ([]BatchSummary, error) {
	if a.summarizer == nil {
		return nil, ErrNoSummarizer
	}

	var open []storage.Task
	for urgency := 5; urgency >= 1; urgency-- {
		tasks, err := a.store.ListTasksByUrgency(urgency)
		if err != nil {
			return nil, fmt.Errorf("listing tasks at urgency %d: %w", urgency, err)
		}
		var halfDone, pending []storage.Task
		for _, t := range tasks {
			switch t.Status {
			case storage.StatusCompleted:
			case storage.StatusHalfCompleted:
				halfDone = append(halfDone, t)
			default:
				pending = append(pending, t)
			}
		}
		open = append(open, halfDone...)
		open = append(open, pending...)
	}

	batches := batcher.Split(open, a.cfg.MaxBatchTasks, a.cfg.MaxBatchSize)

	summaries := make([]BatchSummary, 0, len(batches))
	for _, batch := range batches {
		summary, err := a.summarizer.Chat(ctx, a.composer.BuildBatchSummary(batch), nil)
		if err != nil {
			return summaries, fmt.Errorf("summarizing batch of %d tasks: %w", len(batch), err)
		}
		summaries = append(summaries, BatchSummary{Tasks: batch, Summary: summary})
	}
	return summaries, nil
}
