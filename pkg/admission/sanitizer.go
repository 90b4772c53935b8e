package admission

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/types"
)

// deniedPattern is one named entry of the input deny-list. The name is
// recorded in the audit log; callers only ever see a generic rejection.
type deniedPattern struct {
	name string
	re   *regexp.Regexp
}

// Matching is case-insensitive, first match wins. Order roughly by how
// often the patterns fire in practice.
var deniedPatterns = []deniedPattern{
	{"command-substitution", regexp.MustCompile(`(?i)\$\(`)},
	{"backtick-execution", regexp.MustCompile("(?i)`[^`]+`")},
	{"command-chaining", regexp.MustCompile(`(?i)&&|\|\|`)},
	{"destructive-command", regexp.MustCompile(`(?i);.*rm`)},
	{"external-fetch", regexp.MustCompile(`(?i)\bcurl\b|\bwget\b`)},
	{"code-execution", regexp.MustCompile(`(?i)\beval\b|\bexec\b`)},
	{"os-module-import", regexp.MustCompile(`(?i)import\s+os`)},
	{"url-scheme", regexp.MustCompile(`(?i)https?://`)},
	{"privilege-escalation", regexp.MustCompile(`(?i)\bsudo\b`)},
	{"sensitive-path", regexp.MustCompile(`(?i)/etc/passwd`)},
}

// Sanitize validates a free-text command argument against the deny-list
// before it is interpreted as a lab-type identifier. On pass it returns
// the input trimmed of surrounding whitespace.
func Sanitize(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("empty input: %w", types.ErrValidation)
	}

	for _, p := range deniedPatterns {
		if p.re.MatchString(input) {
			// Pattern identity stays internal; leaking it would tell an
			// attacker which rule to evade.
			log.AuditWarn("INPUT_BLOCKED").
				Str("pattern", p.name).
				Str("input", truncate(input, 80)).
				Send()
			return "", fmt.Errorf("input rejected: %w", types.ErrValidation)
		}
	}

	return strings.TrimSpace(input), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
