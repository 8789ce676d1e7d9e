package sql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RiskTier is the ordered classification of a statement's destructive
// potential. Higher values are more severe.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var tierNames = map[RiskTier]string{
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (t RiskTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "low"
}

// MarshalJSON renders the tier as its lowercase name.
func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a lowercase tier name.
func (t *RiskTier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	tier, err := ParseRiskTier(name)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseRiskTier converts a tier name to a RiskTier. Case-insensitive.
func ParseRiskTier(name string) (RiskTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk tier %q", name)
	}
}

// RequiresConfirmation reports whether a statement at this tier must wait
// for explicit user approval under the given threshold.
func (t RiskTier) RequiresConfirmation(threshold RiskTier) bool {
	return t >= threshold
}

// Classification is the result of rating one SQL string.
type Classification struct {
	Tier RiskTier `json:"risk_level"`
	// Impact is a generic, tier-appropriate sentence used when the caller
	// supplies no impact text of its own.
	Impact string `json:"impact"`
}

// whereWordPattern matches WHERE as a standalone word.
var whereWordPattern = regexp.MustCompile(`(?i)(^|[^a-z0-9_])where([^a-z0-9_]|$)`)

// Classify rates a SQL string. Pure: identical input always yields an
// identical result. Multi-statement scripts classify at the most severe
// tier among their statements, and carry that statement's impact text.
func Classify(sqlText string) Classification {
	statements := SplitStatements(StripComments(sqlText))
	if len(statements) == 0 {
		return Classification{Tier: RiskLow, Impact: "This statement reads data without modifying it."}
	}

	result := classifyStatement(statements[0])
	for _, stmt := range statements[1:] {
		c := classifyStatement(stmt)
		if c.Tier > result.Tier {
			result = c
		}
	}
	return result
}

func classifyStatement(stmt string) Classification {
	keyword := leadingKeyword(stmt)

	switch keyword {
	case "DROP":
		return Classification{
			Tier:   RiskCritical,
			Impact: "This statement will permanently remove a database object and all data it contains. It cannot be undone.",
		}
	case "TRUNCATE":
		return Classification{
			Tier:   RiskCritical,
			Impact: "This statement will permanently delete every row in the table. It cannot be undone.",
		}
	case "DELETE":
		if !hasWhereClause(stmt) {
			return Classification{
				Tier:   RiskCritical,
				Impact: "This statement has no WHERE clause and will permanently delete every row in the table.",
			}
		}
		return Classification{
			Tier:   RiskHigh,
			Impact: "This statement will permanently delete the rows matching its WHERE clause.",
		}
	case "UPDATE":
		if !hasWhereClause(stmt) {
			return Classification{
				Tier:   RiskHigh,
				Impact: "This statement has no WHERE clause and will modify every row in the table.",
			}
		}
		return Classification{
			Tier:   RiskMedium,
			Impact: "This statement will modify the rows matching its WHERE clause.",
		}
	case "ALTER":
		return Classification{
			Tier:   RiskMedium,
			Impact: "This statement will change the structure of a database object.",
		}
	case "INSERT":
		return Classification{
			Tier:   RiskLow,
			Impact: "This statement will add new rows to a table.",
		}
	case "CREATE":
		return Classification{
			Tier:   RiskLow,
			Impact: "This statement will create a new database object.",
		}
	default:
		return Classification{
			Tier:   RiskLow,
			Impact: "This statement reads data without modifying it.",
		}
	}
}

// leadingKeyword returns the first word of the statement, uppercased.
func leadingKeyword(stmt string) string {
	fields := strings.Fields(strings.TrimSpace(stmt))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// hasWhereClause reports whether WHERE appears as a word outside string
// literals. Syntactic detection only; a tautological WHERE still counts.
func hasWhereClause(stmt string) bool {
	return whereWordPattern.MatchString(maskStringLiterals(stmt))
}

var mutatingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "TRUNCATE": true, "ALTER": true, "CREATE": true,
	"GRANT": true, "REVOKE": true, "CALL": true, "DO": true,
}

var readOnlyKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "SHOW": true, "EXPLAIN": true,
	"TABLE": true, "VALUES": true,
}

// IsReadOnly reports whether a statement can be run through the read-only
// path: a read-initial keyword and no mutating keyword anywhere outside
// string literals (catches CTEs like WITH ... AS (DELETE ...)).
func IsReadOnly(sqlText string) bool {
	stripped := StripComments(sqlText)
	statements := SplitStatements(stripped)
	if len(statements) == 0 {
		return true
	}

	for _, stmt := range statements {
		if !readOnlyKeywords[leadingKeyword(stmt)] {
			return false
		}
		for _, word := range strings.FieldsFunc(maskStringLiterals(stmt), isNotWordChar) {
			if mutatingKeywords[strings.ToUpper(word)] {
				return false
			}
		}
	}
	return true
}

func isNotWordChar(r rune) bool {
	return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// maskStringLiterals replaces the contents of string literals with spaces
// so keyword scans cannot match inside data values.
func maskStringLiterals(stmt string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	out := []rune(stmt)
	state := stateNormal
	prevChar := rune(0)

	for i, char := range out {
		switch state {
		case stateNormal:
			if char == '\'' {
				state = stateSingleQuote
			} else if char == '"' {
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
		prevChar = char
	}

	return string(out)
}
