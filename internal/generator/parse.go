package generator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// shortVariantLimit bounds the padded short variant when the response
// could not be split.
const shortVariantLimit = 200

var (
	variantLabel   = regexp.MustCompile(`(?i)^\s*\**\s*VARIANT[_ ]?([123])\s*\**\s*:\s*`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n+`)
)

// parseStrategy turns a raw completion into exactly three segments or
// reports that it does not apply.
type parseStrategy struct {
	name  string
	parse func(raw string, limit int) ([]string, bool)
}

// strategies run in order; the last always applies to non-empty input.
var strategies = []parseStrategy{
	{name: "labeled", parse: parseLabeled},
	{name: "paragraphs", parse: parseParagraphs},
	{name: "single", parse: parseSingle},
}

func parseVariants(raw string, limit int) ([]string, string) {
	for _, s := range strategies {
		if out, ok := s.parse(raw, limit); ok {
			return out, s.name
		}
	}
	return nil, ""
}

// parseLabeled reads VARIANT_n: sections. It applies only when three
// distinct non-empty sections come back.
func parseLabeled(raw string, _ int) ([]string, bool) {
	var (
		segments []string
		current  strings.Builder
		inside   bool
	)
	flush := func() {
		if inside {
			segments = append(segments, strings.TrimSpace(current.String()))
		}
		current.Reset()
	}
	for _, line := range strings.Split(raw, "\n") {
		if loc := variantLabel.FindStringIndex(line); loc != nil {
			flush()
			inside = true
			current.WriteString(line[loc[1]:])
			continue
		}
		if inside {
			current.WriteString("\n")
			current.WriteString(line)
		}
	}
	flush()

	if len(segments) < 3 {
		return nil, false
	}
	segments = segments[:3]
	seen := map[string]struct{}{}
	for _, s := range segments {
		if s == "" {
			return nil, false
		}
		if _, dup := seen[s]; dup {
			return nil, false
		}
		seen[s] = struct{}{}
	}
	return segments, true
}

func parseParagraphs(raw string, _ int) ([]string, bool) {
	var paragraphs []string
	for _, p := range paragraphBreak.Split(raw, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) < 3 {
		return nil, false
	}
	return paragraphs[:3], true
}

// parseSingle pads one body into three: the body, a short cut of it, and
// the body again cut to the limit.
func parseSingle(raw string, limit int) ([]string, bool) {
	body := strings.TrimSpace(raw)
	if first := paragraphBreak.Split(body, 2); len(first) > 0 && strings.TrimSpace(first[0]) != "" {
		body = strings.TrimSpace(first[0])
	}
	if body == "" {
		return nil, false
	}
	return []string{body, truncateAtWord(body, shortVariantLimit), truncateAtWord(body, limit)}, true
}

// truncateAtWord cuts s to at most limit runes, backing off to the last
// space when one is reasonably close.
func truncateAtWord(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
