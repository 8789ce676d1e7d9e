package schemaindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/retry"
)

// embedBatchSize bounds how many texts go to the embedding endpoint per call.
const embedBatchSize = 64

type indexedEntry struct {
	Entry
	vector []float32
}

// snapshot is one immutable build of the index. Searches read whichever
// snapshot is current; rebuilds assemble a new one and swap it in whole.
type snapshot struct {
	entries []indexedEntry
	tables  map[string]*TableDoc
	stats   Stats
}

// TableDoc carries the full discovered metadata of one table, kept alongside
// the embeddings so DDL lookups don't go back to the datasource.
type TableDoc struct {
	Schema      string
	Table       string
	RowCount    int64
	Columns     []datasource.ColumnMetadata
	ForeignKeys []datasource.ForeignKeyMetadata
}

// Index is the embedding-backed schema index. Zero value is not usable;
// construct with New.
type Index struct {
	embedder llm.EmbeddingClient
	logger   *zap.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// New creates an empty index. Search returns apperrors.ErrIndexNotReady
// until the first successful Rebuild.
func New(embedder llm.EmbeddingClient, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		embedder: embedder,
		logger:   logger.Named("schemaindex"),
	}
}

// Rebuild discovers the schema, embeds every table, column and business
// term, and atomically swaps in the new snapshot. The previous snapshot
// keeps serving searches until the swap; on any failure it is left
// untouched and an *IndexBuildError is returned.
func (idx *Index) Rebuild(ctx context.Context, extractor datasource.SchemaExtractor, terms []models.BusinessTerm, progress ProgressFunc) (*Stats, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	started := time.Now()

	tables, err := extractor.DiscoverTables(ctx)
	if err != nil {
		return nil, &IndexBuildError{Step: "tables", Err: err}
	}

	fks, err := extractor.DiscoverForeignKeys(ctx)
	if err != nil {
		return nil, &IndexBuildError{Step: "tables", Err: err}
	}
	fksBySource := make(map[string][]datasource.ForeignKeyMetadata)
	for _, fk := range fks {
		key := tableKey(fk.SourceSchema, fk.SourceTable)
		fksBySource[key] = append(fksBySource[key], fk)
	}

	docs := make(map[string]*TableDoc, len(tables))
	var tableEntries, columnEntries []Entry

	progress("tables", 0, len(tables))
	for i, t := range tables {
		columns, err := extractor.DiscoverColumns(ctx, t.SchemaName, t.TableName)
		if err != nil {
			return nil, &IndexBuildError{Step: "tables", Err: fmt.Errorf("discover columns for %s.%s: %w", t.SchemaName, t.TableName, err)}
		}

		key := tableKey(t.SchemaName, t.TableName)
		docs[key] = &TableDoc{
			Schema:      t.SchemaName,
			Table:       t.TableName,
			RowCount:    t.RowCount,
			Columns:     columns,
			ForeignKeys: fksBySource[key],
		}

		tableEntries = append(tableEntries, Entry{
			ID:          "table:" + key,
			Type:        EntityTable,
			DisplayText: tableDisplayText(t, columns),
			Metadata: map[string]any{
				"schema_name": t.SchemaName,
				"table_name":  t.TableName,
				"row_count":   t.RowCount,
			},
		})

		for _, c := range columns {
			columnEntries = append(columnEntries, Entry{
				ID:          fmt.Sprintf("column:%s.%s", key, c.ColumnName),
				Type:        EntityColumn,
				DisplayText: columnDisplayText(t, c),
				Metadata: map[string]any{
					"schema_name": t.SchemaName,
					"table_name":  t.TableName,
					"column_name": c.ColumnName,
					"data_type":   c.DataType,
				},
			})
		}
		progress("tables", i+1, len(tables))
	}

	var termEntries []Entry
	for _, term := range terms {
		termEntries = append(termEntries, Entry{
			ID:          "term:" + term.Name,
			Type:        EntityBusinessTerm,
			DisplayText: termDisplayText(term),
			Metadata: map[string]any{
				"name":            term.Name,
				"definition":      term.Definition,
				"formula":         term.Formula,
				"related_tables":  term.RelatedTables,
				"related_columns": term.RelatedColumns,
			},
		})
	}

	entries := make([]indexedEntry, 0, len(tableEntries)+len(columnEntries)+len(termEntries))
	for _, group := range []struct {
		step    string
		entries []Entry
	}{
		{"tables", tableEntries},
		{"columns", columnEntries},
		{"business_terms", termEntries},
	} {
		embedded, err := idx.embedEntries(ctx, group.step, group.entries, progress)
		if err != nil {
			return nil, &IndexBuildError{Step: group.step, Err: err}
		}
		entries = append(entries, embedded...)
	}

	stats := Stats{
		TableCount:  len(tableEntries),
		ColumnCount: len(columnEntries),
		TermCount:   len(termEntries),
		EntryCount:  len(entries),
		BuiltAt:     time.Now(),
	}

	idx.mu.Lock()
	idx.snap = &snapshot{entries: entries, tables: docs, stats: stats}
	idx.mu.Unlock()

	idx.logger.Info("Schema index rebuilt",
		zap.Int("tables", stats.TableCount),
		zap.Int("columns", stats.ColumnCount),
		zap.Int("terms", stats.TermCount),
		zap.Duration("elapsed", time.Since(started)))

	return &stats, nil
}

// embedEntries computes vectors for a group of entries in batches, retrying
// transient embedding failures.
func (idx *Index) embedEntries(ctx context.Context, step string, entries []Entry, progress ProgressFunc) ([]indexedEntry, error) {
	if len(entries) == 0 {
		progress(step, 0, 0)
		return nil, nil
	}

	out := make([]indexedEntry, 0, len(entries))
	progress(step, 0, len(entries))
	for start := 0; start < len(entries); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		texts := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			texts = append(texts, e.DisplayText)
		}

		var vectors [][]float32
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var embedErr error
			vectors, embedErr = idx.embedder.CreateEmbeddings(ctx, texts, idx.embedder.GetModel())
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts))
		}

		for i, e := range entries[start:end] {
			out = append(out, indexedEntry{Entry: e, vector: vectors[i]})
		}
		progress(step, end, len(entries))
	}

	return out, nil
}

// Search embeds the query and returns the topK most similar entries,
// optionally restricted to the given entity types. Scores are cosine
// similarity, descending; ties break on entry id for determinism.
func (idx *Index) Search(ctx context.Context, query string, topK int, types []EntityType) ([]Match, error) {
	idx.mu.RLock()
	snap := idx.snap
	idx.mu.RUnlock()

	if snap == nil {
		return nil, apperrors.ErrIndexNotReady
	}
	if topK <= 0 {
		topK = 10
	}

	queryVec, err := idx.embedder.CreateEmbedding(ctx, query, idx.embedder.GetModel())
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	wanted := make(map[EntityType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	matches := make([]Match, 0, len(snap.entries))
	for _, e := range snap.entries {
		if len(wanted) > 0 && !wanted[e.Type] {
			continue
		}
		matches = append(matches, Match{Entry: e.Entry, Score: cosine(queryVec, e.vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.ID < matches[j].Entry.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ListTables returns the tables of the current snapshot.
func (idx *Index) ListTables() ([]datasource.TableMetadata, error) {
	idx.mu.RLock()
	snap := idx.snap
	idx.mu.RUnlock()

	if snap == nil {
		return nil, apperrors.ErrIndexNotReady
	}

	tables := make([]datasource.TableMetadata, 0, len(snap.tables))
	for _, doc := range snap.tables {
		tables = append(tables, datasource.TableMetadata{
			SchemaName: doc.Schema,
			TableName:  doc.Table,
			RowCount:   doc.RowCount,
		})
	}
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].SchemaName != tables[j].SchemaName {
			return tables[i].SchemaName < tables[j].SchemaName
		}
		return tables[i].TableName < tables[j].TableName
	})
	return tables, nil
}

// Table looks up one table's discovered metadata. Accepts "schema.table" or
// a bare table name when it is unambiguous.
func (idx *Index) Table(name string) (*TableDoc, error) {
	idx.mu.RLock()
	snap := idx.snap
	idx.mu.RUnlock()

	if snap == nil {
		return nil, apperrors.ErrIndexNotReady
	}

	if doc, ok := snap.tables[strings.ToLower(name)]; ok {
		return doc, nil
	}

	var found *TableDoc
	for _, doc := range snap.tables {
		if strings.EqualFold(doc.Table, name) {
			if found != nil {
				return nil, fmt.Errorf("table name %q is ambiguous, qualify it with a schema: %w", name, apperrors.ErrNotFound)
			}
			found = doc
		}
	}
	if found == nil {
		return nil, fmt.Errorf("table %q: %w", name, apperrors.ErrNotFound)
	}
	return found, nil
}

// Clear drops the snapshot; subsequent searches fail with ErrIndexNotReady
// until the next Rebuild.
func (idx *Index) Clear() {
	idx.mu.Lock()
	idx.snap = nil
	idx.mu.Unlock()
}

// Stats reports the current snapshot's counts. Unlike Search, stats stay
// available before the first build: an unbuilt index reports all zeroes.
func (idx *Index) Stats() *Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.snap == nil {
		return &Stats{}
	}
	stats := idx.snap.stats
	return &stats
}

// Ready reports whether the index has been built.
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap != nil
}

func tableKey(schema, table string) string {
	return strings.ToLower(schema + "." + table)
}

// tableDisplayText composes the embedded surface form of a table. Both the
// singular and plural of the table name are included so "customer order"
// style questions still land on "customer_orders".
func tableDisplayText(t datasource.TableMetadata, columns []datasource.ColumnMetadata) string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.ColumnName)
	}

	base := strings.ReplaceAll(t.TableName, "_", " ")
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s.%s", t.SchemaName, t.TableName)
	fmt.Fprintf(&b, " (%s, %s)", inflection.Singular(base), inflection.Plural(base))
	if len(names) > 0 {
		fmt.Fprintf(&b, " with columns: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func columnDisplayText(t datasource.TableMetadata, c datasource.ColumnMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Column %s in table %s.%s, type %s", c.ColumnName, t.SchemaName, t.TableName, c.DataType)
	if c.IsPrimaryKey {
		b.WriteString(", primary key")
	}
	fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(c.ColumnName, "_", " "))
	return b.String()
}

func termDisplayText(term models.BusinessTerm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business term %s: %s", term.Name, term.Definition)
	if term.Formula != "" {
		fmt.Fprintf(&b, " Formula: %s", term.Formula)
	}
	if len(term.RelatedTables) > 0 {
		fmt.Fprintf(&b, " Related tables: %s", strings.Join(term.RelatedTables, ", "))
	}
	return b.String()
}

// cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
