package security

import (
	"regexp"
	"strings"
)

// Mode selects how the PII guard reacts to a match.
type Mode string

const (
	ModeAlert  Mode = "alert"
	ModeBlock  Mode = "block"
	ModeRedact Mode = "redact"
)

// defaultPatterns is the built-in baseline; user-supplied regexes from
// pii.patterns extend it, so this set is a floor, not the contract.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),                      // email
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                                 // national id (SSN-shaped)
	regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),                                                // card number
	regexp.MustCompile(`\b\+?\d{1,3}[ .\-]?\(?\d{2,4}\)?[ .\-]?\d{3,4}[ .\-]?\d{3,4}\b`),         // phone
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),                                            // IPv4
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),                                                  // date of birth (ISO)
}

// Guard scans page text carried in pre-check payloads for PII.
type Guard struct {
	mode     Mode
	patterns []*regexp.Regexp
}

// NewGuard builds a Guard from a mode and extra user-supplied regexes,
// appended to the built-in pattern set.
func NewGuard(mode Mode, extra []string) *Guard {
	if mode == "" {
		mode = ModeAlert
	}
	patterns := append([]*regexp.Regexp(nil), defaultPatterns...)
	for _, p := range extra {
		if re, err := regexp.Compile(p); err == nil {
			patterns = append(patterns, re)
		}
	}
	return &Guard{mode: mode, patterns: patterns}
}

func (g *Guard) Mode() Mode { return g.mode }

// Scan reports whether text contains any PII match.
func (g *Guard) Scan(text string) bool {
	for _, re := range g.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces every match in text with a length-preserving mask of
// '*', so downstream consumers see the same layout without the payload.
func (g *Guard) Redact(text string) string {
	out := text
	for _, re := range g.patterns {
		out = re.ReplaceAllStringFunc(out, func(m string) string {
			return strings.Repeat("*", len(m))
		})
	}
	return out
}
