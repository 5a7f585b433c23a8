package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

// Sanitizer masks data that should not end up in log files: device serials
// and the user name embedded in home directory paths.
//
// Messages and string or error values are rewritten by regular expression.
// Values under sensitive keys ("serial", "token", ...) are masked whole.
type Sanitizer struct {
	rules []redaction
}

type redaction struct {
	re   *regexp.Regexp
	repl string
}

var defaultRedactions = []redaction{
	{regexp.MustCompile(`(-s\s+)\S+`), "${1}***"},
	{regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\]+`), `***:\Users\***`},
	{regexp.MustCompile(`/home/[^/\s]+`), "/home/***"},
	{regexp.MustCompile(`/Users/[^/\s]+`), "/Users/***"},
}

var sensitiveKeys = []string{"serial", "password", "token", "secret"}

// NewSanitizer returns a sanitizer with the default redactions
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: defaultRedactions}
}

// Sanitize applies every redaction to input
func (s *Sanitizer) Sanitize(input string) string {
	for _, r := range s.rules {
		input = r.re.ReplaceAllString(input, r.repl)
	}
	return input
}

// SanitizeArgs returns a sanitized copy of slog-style key/value args.
// slog.Attr values are handled too; other value types pass through.
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	out := make([]any, len(args))
	copy(out, args)

	for i := 0; i < len(out); i++ {
		if a, ok := out[i].(slog.Attr); ok {
			if v, ok := s.value(a.Key, a.Value.Any()); ok {
				out[i] = slog.String(a.Key, v)
			}
			continue
		}

		key, ok := out[i].(string)
		if !ok || i+1 >= len(out) {
			continue
		}
		if v, ok := s.value(key, out[i+1]); ok {
			out[i+1] = v
		}
		i++
	}
	return out
}

// value returns the sanitized form of a string or error value
func (s *Sanitizer) value(key string, v any) (string, bool) {
	var str string
	switch v := v.(type) {
	case string:
		str = v
	case error:
		str = v.Error()
	default:
		return "", false
	}

	if isSensitiveKey(key) {
		return maskValue(str), true
	}
	return s.Sanitize(str), true
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// maskValue keeps the first character and, for longer values, the last
func maskValue(v string) string {
	switch {
	case len(v) <= 2:
		return "***"
	case len(v) <= 8:
		return v[:1] + "***"
	default:
		return v[:1] + "***" + v[len(v)-1:]
	}
}
