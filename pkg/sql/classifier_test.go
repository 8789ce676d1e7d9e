package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Tiers(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want RiskTier
	}{
		{"select", "SELECT * FROM users", RiskLow},
		{"select lowercase", "select id from orders where status = 'open'", RiskLow},
		{"insert", "INSERT INTO users (name) VALUES ('a')", RiskLow},
		{"create table", "CREATE TABLE audit_log (id serial primary key)", RiskLow},
		{"update with where", "UPDATE users SET status = 'active' WHERE id = 1", RiskMedium},
		{"alter", "ALTER TABLE users ADD COLUMN age int", RiskMedium},
		{"update without where", "UPDATE users SET status='inactive'", RiskHigh},
		{"delete with where", "DELETE FROM orders WHERE status = 'test'", RiskHigh},
		{"delete without where", "DELETE FROM orders", RiskCritical},
		{"drop table", "DROP TABLE sessions", RiskCritical},
		{"truncate", "TRUNCATE TABLE events", RiskCritical},
		{"empty", "", RiskLow},
		{"leading comment", "-- cleanup\nDELETE FROM orders", RiskCritical},
		{"block comment", "/* remove stale rows */ DELETE FROM orders WHERE stale", RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sql)
			assert.Equal(t, tt.want, got.Tier)
			assert.NotEmpty(t, got.Impact)
		})
	}
}

func TestClassify_Pure(t *testing.T) {
	const stmt = "DELETE FROM orders WHERE status = 'test'"
	first := Classify(stmt)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(stmt))
	}
}

func TestClassify_MultiStatementTakesMaxTier(t *testing.T) {
	got := Classify("SELECT 1; DROP TABLE users; INSERT INTO log VALUES (1)")
	assert.Equal(t, RiskCritical, got.Tier)

	got = Classify("INSERT INTO log VALUES (1); UPDATE users SET x=1 WHERE id=2")
	assert.Equal(t, RiskMedium, got.Tier)
}

func TestClassify_WhereInsideLiteralDoesNotCount(t *testing.T) {
	// the only WHERE is data, so this is an unbounded DELETE
	got := Classify("DELETE FROM notes")
	assert.Equal(t, RiskCritical, got.Tier)

	got = Classify("UPDATE notes SET body = 'tell me where it hurts'")
	assert.Equal(t, RiskHigh, got.Tier)
}

func TestRiskTier_RequiresConfirmation(t *testing.T) {
	assert.False(t, RiskLow.RequiresConfirmation(RiskHigh))
	assert.False(t, RiskMedium.RequiresConfirmation(RiskHigh))
	assert.True(t, RiskHigh.RequiresConfirmation(RiskHigh))
	assert.True(t, RiskCritical.RequiresConfirmation(RiskHigh))

	// stricter deployments can lower the threshold
	assert.True(t, RiskMedium.RequiresConfirmation(RiskMedium))
}

func TestParseRiskTier(t *testing.T) {
	for name, want := range map[string]RiskTier{
		"low": RiskLow, "MEDIUM": RiskMedium, " High ": RiskHigh, "critical": RiskCritical,
	} {
		got, err := ParseRiskTier(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseRiskTier("extreme")
	assert.Error(t, err)
}

func TestRiskTier_JSONRoundTrip(t *testing.T) {
	data, err := RiskHigh.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var tier RiskTier
	require.NoError(t, tier.UnmarshalJSON([]byte(`"critical"`)))
	assert.Equal(t, RiskCritical, tier)
}

func TestIsReadOnly(t *testing.T) {
	assert.True(t, IsReadOnly("SELECT * FROM users"))
	assert.True(t, IsReadOnly("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.True(t, IsReadOnly("EXPLAIN SELECT * FROM orders"))
	assert.True(t, IsReadOnly("SELECT * FROM events WHERE note = 'please delete this'"))

	assert.False(t, IsReadOnly("DELETE FROM users"))
	assert.False(t, IsReadOnly("INSERT INTO users VALUES (1)"))
	assert.False(t, IsReadOnly("WITH gone AS (DELETE FROM users RETURNING id) SELECT * FROM gone"))
	assert.False(t, IsReadOnly("SELECT 1; DROP TABLE users"))
}
