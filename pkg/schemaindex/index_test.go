package schemaindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// keywordEmbedder embeds text as keyword-presence counts so similarity is
// predictable in tests.
var embedKeywords = []string{"order", "customer", "user", "email", "revenue"}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(embedKeywords))
	for i, kw := range embedKeywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	return vec
}

func newKeywordEmbedder() *llm.MockLLMClient {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string, model string) ([]float32, error) {
		return keywordVector(input), nil
	}
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = keywordVector(in)
		}
		return out, nil
	}
	return mock
}

type fakeExtractor struct {
	tablesErr error
}

func (f *fakeExtractor) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	return []datasource.TableMetadata{
		{SchemaName: "public", TableName: "customer_orders", RowCount: 1200},
		{SchemaName: "public", TableName: "users", RowCount: 45},
	}, nil
}

func (f *fakeExtractor) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	switch tableName {
	case "customer_orders":
		return []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "UUID", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "customer_id", DataType: "UUID", IsNullable: false, OrdinalPosition: 2},
			{ColumnName: "total", DataType: "NUMERIC", IsNullable: true, OrdinalPosition: 3},
		}, nil
	case "users":
		return []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "INT8", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "email", DataType: "TEXT", OrdinalPosition: 2},
		}, nil
	}
	return nil, nil
}

func (f *fakeExtractor) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return []datasource.ForeignKeyMetadata{{
		ConstraintName: "fk_orders_user",
		SourceSchema:   "public", SourceTable: "customer_orders", SourceColumn: "customer_id",
		TargetSchema: "public", TargetTable: "users", TargetColumn: "id",
	}}, nil
}

func glossaryTerms() []models.BusinessTerm {
	return []models.BusinessTerm{{
		Name:       "MRR",
		Definition: "Monthly recurring revenue",
		Formula:    "SUM(total) per month",
	}}
}

func builtIndex(t *testing.T) *Index {
	t.Helper()
	idx := New(newKeywordEmbedder(), zap.NewNop())
	_, err := idx.Rebuild(context.Background(), &fakeExtractor{}, glossaryTerms(), nil)
	require.NoError(t, err)
	return idx
}

func TestRebuild_Stats(t *testing.T) {
	idx := builtIndex(t)

	stats := idx.Stats()
	assert.Equal(t, 2, stats.TableCount)
	assert.Equal(t, 5, stats.ColumnCount)
	assert.Equal(t, 1, stats.TermCount)
	assert.Equal(t, 8, stats.EntryCount)
	assert.False(t, stats.BuiltAt.IsZero())
}

func TestSearch_RanksRelevantTableFirst(t *testing.T) {
	idx := builtIndex(t)

	matches, err := idx.Search(context.Background(), "customer order history", 3, []EntityType{EntityTable})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "table:public.customer_orders", matches[0].Entry.ID)
	assert.Greater(t, matches[0].Score, 0.0)
	for _, m := range matches {
		assert.Equal(t, EntityTable, m.Entry.Type)
	}
}

func TestSearch_BusinessTerms(t *testing.T) {
	idx := builtIndex(t)

	matches, err := idx.Search(context.Background(), "recurring revenue", 1, []EntityType{EntityBusinessTerm})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "term:MRR", matches[0].Entry.ID)
}

func TestSearch_NotReady(t *testing.T) {
	idx := New(newKeywordEmbedder(), zap.NewNop())

	_, err := idx.Search(context.Background(), "anything", 5, nil)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
	assert.False(t, idx.Ready())

	_, err = idx.ListTables()
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)

	// Stats stay available before the first build.
	stats := idx.Stats()
	assert.Zero(t, stats.TableCount)
	assert.Zero(t, stats.EntryCount)
	assert.True(t, stats.BuiltAt.IsZero())
}

func TestClear_DropsSnapshot(t *testing.T) {
	idx := builtIndex(t)
	require.True(t, idx.Ready())

	idx.Clear()
	_, err := idx.Search(context.Background(), "orders", 5, nil)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
}

func TestRebuild_FailureKeepsPreviousSnapshot(t *testing.T) {
	idx := builtIndex(t)

	_, err := idx.Rebuild(context.Background(), &fakeExtractor{tablesErr: errors.New("connection reset")}, nil, nil)
	require.Error(t, err)

	var buildErr *IndexBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "tables", buildErr.Step)

	// Old snapshot still serves searches.
	matches, searchErr := idx.Search(context.Background(), "users email", 2, nil)
	require.NoError(t, searchErr)
	assert.NotEmpty(t, matches)
}

func TestRebuild_ReportsProgress(t *testing.T) {
	idx := New(newKeywordEmbedder(), zap.NewNop())

	steps := map[string]int{}
	_, err := idx.Rebuild(context.Background(), &fakeExtractor{}, glossaryTerms(), func(step string, completed, total int) {
		steps[step]++
		assert.LessOrEqual(t, completed, total)
	})
	require.NoError(t, err)
	assert.Contains(t, steps, "tables")
	assert.Contains(t, steps, "columns")
	assert.Contains(t, steps, "business_terms")
}

// namedExtractor serves a fixed list of single-column tables.
type namedExtractor struct {
	tables []string
}

func (f *namedExtractor) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	out := make([]datasource.TableMetadata, 0, len(f.tables))
	for _, name := range f.tables {
		out = append(out, datasource.TableMetadata{SchemaName: "public", TableName: name, RowCount: 10})
	}
	return out, nil
}

func (f *namedExtractor) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	return []datasource.ColumnMetadata{
		{ColumnName: "id", DataType: "INT8", IsPrimaryKey: true, OrdinalPosition: 1},
	}, nil
}

func (f *namedExtractor) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return nil, nil
}

func TestRebuild_SwapAtomicUnderConcurrentSearch(t *testing.T) {
	oldSet := map[string]bool{"order_archive": true, "order_items": true}
	newSet := map[string]bool{"customer_accounts": true, "customer_notes": true}

	mock := newKeywordEmbedder()
	embedBatch := mock.CreateEmbeddingsFunc
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
		// Widens the window between build steps so searches land mid-rebuild.
		time.Sleep(time.Millisecond)
		return embedBatch(ctx, inputs, model)
	}

	idx := New(mock, zap.NewNop())
	_, err := idx.Rebuild(context.Background(), &namedExtractor{tables: []string{"order_archive", "order_items"}}, nil, nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	var mixed atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				matches, err := idx.Search(context.Background(), "customer order history", 10, nil)
				if err != nil {
					continue
				}
				var sawOld, sawNew bool
				for _, m := range matches {
					name, _ := m.Entry.Metadata["table_name"].(string)
					sawOld = sawOld || oldSet[name]
					sawNew = sawNew || newSet[name]
				}
				if sawOld && sawNew {
					mixed.Store(true)
					return
				}
			}
		}()
	}

	generations := [][]string{
		{"customer_accounts", "customer_notes"},
		{"order_archive", "order_items"},
		{"customer_accounts", "customer_notes"},
	}
	for _, tables := range generations {
		_, err := idx.Rebuild(context.Background(), &namedExtractor{tables: tables}, nil, nil)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.False(t, mixed.Load(), "a search must see one snapshot, never a blend of two")
}

func TestTableLookup(t *testing.T) {
	idx := builtIndex(t)

	doc, err := idx.Table("public.customer_orders")
	require.NoError(t, err)
	assert.Equal(t, "customer_orders", doc.Table)

	doc, err = idx.Table("Users")
	require.NoError(t, err)
	assert.Equal(t, "users", doc.Table)

	_, err = idx.Table("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListTables_Sorted(t *testing.T) {
	idx := builtIndex(t)

	tables, err := idx.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "customer_orders", tables[0].TableName)
	assert.Equal(t, "users", tables[1].TableName)
}

func TestTableDoc_DDL(t *testing.T) {
	idx := builtIndex(t)

	doc, err := idx.Table("customer_orders")
	require.NoError(t, err)

	ddl := doc.DDL()
	assert.Contains(t, ddl, "CREATE TABLE public.customer_orders")
	assert.Contains(t, ddl, "customer_id UUID NOT NULL")
	assert.Contains(t, ddl, "PRIMARY KEY (id)")
	assert.Contains(t, ddl, "approx. 1200 rows")
	assert.Contains(t, ddl, "REFERENCES public.users (id)")
}

func TestLoadGlossary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glossary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
business_terms:
  - name: MRR
    definition: Monthly recurring revenue
    formula: SUM(total)
    related_tables: [customer_orders]
`), 0o600))

	terms, err := LoadGlossary(path)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "MRR", terms[0].Name)
	assert.Equal(t, []string{"customer_orders"}, terms[0].RelatedTables)

	terms, err = LoadGlossary("")
	require.NoError(t, err)
	assert.Nil(t, terms)

	_, err = LoadGlossary(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("business_terms:\n  - definition: no name"), 0o600))
	_, err = LoadGlossary(bad)
	assert.ErrorContains(t, err, "no name")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine(nil, []float32{1}))
}
