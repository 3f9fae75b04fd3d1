// Package export writes board snapshots as JSONL and ships them to object
// storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"hub/cmd/internal/board"
	"hub/cmd/internal/stats"
)

// FormatVersion is bumped whenever a record shape changes incompatibly.
const FormatVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	CategoryCount int       `json:"category_count"`
	ProjectCount  int       `json:"project_count"`
	TaskCount     int       `json:"task_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Counts reports how many records of each kind an export wrote.
type Counts struct {
	Categories int
	Projects   int
	Tasks      int
}

// ExportJSONL writes every category, project and task as JSONL to w: one
// header line, then categories, projects and tasks in store order.
func ExportJSONL(ctx context.Context, store board.Store, w io.Writer, now time.Time) (Counts, error) {
	snap, err := stats.Load(ctx, store)
	if err != nil {
		return Counts{}, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	counts := Counts{
		Categories: len(snap.Categories),
		Projects:   len(snap.Projects),
		Tasks:      len(snap.Tasks),
	}
	if err := enc.Encode(header{
		Version:       FormatVersion,
		Type:          "header",
		Timestamp:     now.UTC(),
		CategoryCount: counts.Categories,
		ProjectCount:  counts.Projects,
		TaskCount:     counts.Tasks,
	}); err != nil {
		return Counts{}, fmt.Errorf("encode header: %w", err)
	}

	for _, c := range snap.Categories {
		if err := enc.Encode(record{Type: "category", Data: c}); err != nil {
			return Counts{}, fmt.Errorf("encode category %s: %w", c.ID, err)
		}
	}
	for _, p := range snap.Projects {
		if err := enc.Encode(record{Type: "project", Data: p}); err != nil {
			return Counts{}, fmt.Errorf("encode project %s: %w", p.ID, err)
		}
	}
	for _, t := range snap.Tasks {
		if err := enc.Encode(record{Type: "task", Data: t}); err != nil {
			return Counts{}, fmt.Errorf("encode task %s: %w", t.ID, err)
		}
	}
	return counts, nil
}
