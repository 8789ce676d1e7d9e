package sql

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a suspicious literal inside a generated statement.
type InjectionFinding struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The literal that was flagged
}

// Warning renders the finding as an advisory string attached to a pending
// operation's confirmation prompt.
func (f *InjectionFinding) Warning() string {
	return fmt.Sprintf("literal %q matches a SQL injection pattern (fingerprint %s)", f.Value, f.Fingerprint)
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns
// in a single value. Only string values are checked - numbers, booleans, and
// other types cannot carry injection payloads and return nil.
func CheckValueForInjection(value any) *InjectionFinding {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionFinding{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Value:       strValue,
		}
	}

	return nil
}

// ScreenLiterals extracts the single-quoted literals from a statement and
// runs each through the injection check. Findings are advisory: they become
// warnings on the confirmation prompt, they never block execution on their
// own.
func ScreenLiterals(sqlText string) []*InjectionFinding {
	var findings []*InjectionFinding
	for _, lit := range extractStringLiterals(StripComments(sqlText)) {
		if f := CheckValueForInjection(lit); f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}

// Warnings converts ScreenLiterals output to display strings.
func Warnings(findings []*InjectionFinding) []string {
	if len(findings) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(findings))
	for _, f := range findings {
		warnings = append(warnings, f.Warning())
	}
	return warnings
}

// extractStringLiterals returns the contents of single-quoted literals.
// Doubled quotes ('') are unescaped to a single quote.
func extractStringLiterals(sqlText string) []string {
	var literals []string
	var current strings.Builder
	inString := false
	runes := []rune(sqlText)

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		if !inString {
			if char == '\'' {
				inString = true
				current.Reset()
			}
			continue
		}

		if char == '\'' {
			// doubled quote is an escaped quote inside the literal
			if i+1 < len(runes) && runes[i+1] == '\'' {
				current.WriteRune('\'')
				i++
				continue
			}
			inString = false
			if current.Len() > 0 {
				literals = append(literals, current.String())
			}
			continue
		}
		current.WriteRune(char)
	}

	return literals
}
