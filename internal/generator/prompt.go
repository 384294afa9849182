package generator

import (
	"fmt"
	"strings"

	"github.com/janakkhadka100/fb-post-ai/internal/post"
)

const systemPrompt = "You are an expert social media content creator specializing in Facebook posts. " +
	"Generate engaging, platform-appropriate content that follows best practices."

const altTextSystemPrompt = "You are an accessibility expert. Generate concise, descriptive alt-text for images " +
	"that helps visually impaired users understand the content."

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ne": "Nepali",
}

func languageName(locale string) string {
	if name, ok := languageNames[strings.ToLower(locale)]; ok {
		return name
	}
	return locale
}

// Brief is what the generator needs from a request.
type Brief struct {
	RequestID        string
	Locale           string
	Tone             string
	TargetAudience   string
	KeyMessages      []string
	CTA              string
	Hashtags         bool
	CharacterLimit   int
	Kind             post.Kind
	MediaDescription string
}

// BriefFrom extracts the generation brief from a normalized request.
func BriefFrom(r post.Request) Brief {
	return Brief{
		RequestID:        r.RequestID,
		Locale:           r.Locale,
		Tone:             r.Tone,
		TargetAudience:   r.TargetAudience,
		KeyMessages:      r.KeyMessages,
		CTA:              r.CTA,
		Hashtags:         r.WantsHashtags(),
		CharacterLimit:   r.CharacterLimit,
		Kind:             r.PostType,
		MediaDescription: r.MediaDescription,
	}
}

func buildPrompt(b Brief) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate 3 Facebook post variants in %s:\n\n", languageName(b.Locale))

	if b.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target Audience: %s\n", b.TargetAudience)
	}
	fmt.Fprintf(&sb, "Tone: %s\n", b.Tone)
	fmt.Fprintf(&sb, "Character Limit: %d characters per variant\n", b.CharacterLimit)
	fmt.Fprintf(&sb, "Post Type: %s\n\n", b.Kind)

	if b.MediaDescription != "" {
		fmt.Fprintf(&sb, "Media Description: %s\n\n", b.MediaDescription)
	}
	if len(b.KeyMessages) > 0 {
		sb.WriteString("Key Messages to Include:\n")
		for i, msg := range b.KeyMessages {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, msg)
		}
		sb.WriteString("\n")
	}
	if b.Hashtags {
		sb.WriteString("Include 3-5 relevant hashtags per variant.\n")
	}
	if b.CTA != "" {
		fmt.Fprintf(&sb, "Call-to-Action: %s\n\n", b.CTA)
	}

	sb.WriteString("Requirements:\n")
	fmt.Fprintf(&sb, "1. Primary variant: Full-length engaging post (up to %d chars)\n", b.CharacterLimit)
	sb.WriteString("2. Short variant: Condensed version (100-200 chars) for previews\n")
	fmt.Fprintf(&sb, "3. Alternative variant: Different angle/style (up to %d chars)\n\n", b.CharacterLimit)
	sb.WriteString("Format your response as:\n")
	sb.WriteString("VARIANT_1: [content]\n")
	sb.WriteString("VARIANT_2: [content]\n")
	sb.WriteString("VARIANT_3: [content]\n")
	return sb.String()
}
