package audit

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

var secretKeyFragments = []string{"token", "secret", "password", "credential"}

// nonSecretKeyNames hold a "key" segment without naming a secret.
var nonSecretKeyNames = map[string]bool{
	"keymessage":      true,
	"keymessages":     true,
	"keymessagecount": true,
}

type secretPattern struct {
	re   *regexp.Regexp
	repl string
}

var secretValuePatterns = []secretPattern{
	// OpenAI keys and Facebook user/page tokens
	{regexp.MustCompile(`\b(?:sk-|EAA|EAF)[A-Za-z0-9_\-.]{8,}`), logging.Redacted},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=\-]{8,}`), logging.Redacted},
	// credential query and form pairs, e.g. inside a *url.Error
	{regexp.MustCompile(`(?i)\b(access_token|input_token|client_secret|appsecret_proof|api_key)=[^&\s"']+`), "${1}=" + logging.Redacted},
}

// IsSecretKey reports whether a field named key must never be persisted.
// Names are compared case-insensitively with '_' and '-' ignored, so
// page_access_token, pageAccessToken and X-Api-Key all match. A "key"
// word anywhere in the name matches too (apiKeyValue, private_key_pem).
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "", ".", "", " ", "").Replace(k)
	if nonSecretKeyNames[k] {
		return false
	}
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	if strings.HasSuffix(k, "key") {
		return true
	}
	for _, word := range nameWords(key) {
		if word == "key" || word == "keys" {
			return true
		}
	}
	return false
}

// nameWords splits a field name on '_', '-', '.', spaces and camelCase
// boundaries, lowercasing each word. "APIKeyValue" gives api, key, value.
func nameWords(name string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if !unicode.IsUpper(prev) || nextLower {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// RedactString masks token-shaped substrings.
func RedactString(s string) string {
	for _, p := range secretValuePatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// Redact returns a copy of v with secret-named fields replaced and
// token-shaped substrings masked, recursing through maps and slices.
// v is expected in its JSON-decoded form.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if IsSecretKey(k) {
				out[k] = logging.Redacted
				continue
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	case string:
		return RedactString(val)
	default:
		return v
	}
}
