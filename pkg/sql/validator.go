// Package sql provides SQL normalization, risk classification, and
// injection screening for generated statements.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the
// trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// SplitStatements splits a SQL script on semicolons outside string literals.
// Empty fragments are dropped. Used by the classifier, which must rate a
// multi-statement script at the most severe tier it contains.
func SplitStatements(script string) []string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	var statements []string
	var current strings.Builder
	state := stateNormal
	prevChar := rune(0)

	for _, char := range script {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
				prevChar = char
				continue
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		current.WriteRune(char)
		prevChar = char
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('').
			// A doubled quote exits and immediately re-enters, which keeps us
			// in the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return sqlQuery
}

// StripComments removes line (-- ...) and block (/* ... */) comments while
// preserving string literals.
func StripComments(sqlQuery string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	var out strings.Builder
	runes := []rune(sqlQuery)
	state := stateNormal

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			if char == '-' && next == '-' {
				state = stateLineComment
				i++
				continue
			}
			if char == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			if char == '\'' {
				state = stateSingleQuote
			} else if char == '"' {
				state = stateDoubleQuote
			}
			out.WriteRune(char)
		case stateSingleQuote:
			if char == '\'' && (i == 0 || runes[i-1] != '\\') {
				state = stateNormal
			}
			out.WriteRune(char)
		case stateDoubleQuote:
			if char == '"' && (i == 0 || runes[i-1] != '\\') {
				state = stateNormal
			}
			out.WriteRune(char)
		case stateLineComment:
			if char == '\n' {
				state = stateNormal
				out.WriteRune(char)
			}
		case stateBlockComment:
			if char == '*' && next == '/' {
				state = stateNormal
				i++
				// keep statements from fusing across the removed comment
				out.WriteRune(' ')
			}
		}
	}

	return out.String()
}
