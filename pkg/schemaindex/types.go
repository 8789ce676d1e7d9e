// Package schemaindex maintains an in-memory semantic index over the
// datasource schema and the business glossary. Entries are embedded once at
// build time; searches embed the query and rank by cosine similarity.
package schemaindex

import (
	"fmt"
	"time"
)

// EntityType identifies what kind of object an index entry describes.
type EntityType string

const (
	EntityTable        EntityType = "table"
	EntityColumn       EntityType = "column"
	EntityBusinessTerm EntityType = "business_term"
)

// Entry is one indexed object with the text that was embedded for it.
type Entry struct {
	ID          string         `json:"id"`
	Type        EntityType     `json:"type"`
	DisplayText string         `json:"display_text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Match is a search hit with its similarity score in [0, 1].
type Match struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Stats summarizes the current snapshot.
type Stats struct {
	TableCount  int       `json:"table_count"`
	ColumnCount int       `json:"column_count"`
	TermCount   int       `json:"term_count"`
	EntryCount  int       `json:"entry_count"`
	BuiltAt     time.Time `json:"built_at"`
}

// ProgressFunc receives rebuild progress per step. Steps are "tables",
// "columns" and "business_terms".
type ProgressFunc func(step string, completed, total int)

// IndexBuildError wraps a rebuild failure with the step it happened in.
type IndexBuildError struct {
	Step string
	Err  error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("index build failed during %s: %v", e.Step, e.Err)
}

func (e *IndexBuildError) Unwrap() error {
	return e.Err
}
