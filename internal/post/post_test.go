package post

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	t.Parallel()

	in := Request{PageID: " 123 ", KeyMessages: []string{" Sale starts Monday ", "  "}}
	out := in.Normalize()

	assert.True(t, strings.HasPrefix(out.RequestID, "req-"))
	assert.Equal(t, "123", out.PageID)
	assert.Equal(t, KindText, out.PostType)
	assert.Equal(t, DefaultLocale, out.Locale)
	assert.Equal(t, DefaultTone, out.Tone)
	assert.Equal(t, DefaultCharacterLimit, out.CharacterLimit)
	assert.Equal(t, ApprovalAuto, out.ApprovalMode)
	assert.Equal(t, []string{"Sale starts Monday"}, out.KeyMessages)
	assert.True(t, out.WantsHashtags())

	assert.Empty(t, in.RequestID, "normalize must not mutate its receiver")
	assert.Len(t, in.KeyMessages, 2)
}

func TestNormalizeKeepsCallerRequestID(t *testing.T) {
	t.Parallel()

	out := Request{RequestID: "req-1", PageID: "p"}.Normalize()
	assert.Equal(t, "req-1", out.RequestID)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		req   Request
		field string
	}{
		{"ok", Request{PageID: "p"}, ""},
		{"missing page", Request{}, "pageId"},
		{"bad kind", Request{PageID: "p", PostType: "story"}, "postType"},
		{"bad approval", Request{PageID: "p", ApprovalMode: "later"}, "approvalMode"},
		{"limit too big", Request{PageID: "p", CharacterLimit: MaxCharacterLimit + 1}, "characterLimit"},
		{"limit negative", Request{PageID: "p", CharacterLimit: -1}, "characterLimit"},
		{"image without media", Request{PageID: "p", PostType: KindPhoto}, "mediaUrl"},
		{"image with url", Request{PageID: "p", PostType: KindImage, MediaURL: "https://x/y.png"}, ""},
		{"image with path", Request{PageID: "p", PostType: KindImage, MediaPath: "/tmp/y.png"}, ""},
		{"non-http url", Request{PageID: "p", PostType: KindImage, MediaURL: "file:///etc/passwd"}, "mediaUrl"},
		{"manual", Request{PageID: "p", ApprovalMode: "MANUAL"}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.req.Normalize().Validate()
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestPublishJobKeyAndVariantID(t *testing.T) {
	t.Parallel()

	vid := VariantID("req-1", 0)
	assert.Equal(t, "req-1-v1", vid)
	job := PublishJob{RequestID: "req-1", VariantID: vid}
	assert.Equal(t, "post-req-1-req-1-v1", job.Key())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FailurePermanent, Classify(Permanent(errors.New("bad token"))))
	assert.Equal(t, FailureRateLimited, Classify(fmt.Errorf("wrapped: %w", RateLimited(nil, time.Second))))
	assert.Equal(t, FailureTransient, Classify(errors.New("connection reset")))
	assert.Equal(t, FailurePermanent, Classify(fmt.Errorf("x: %w", ErrPublishPermanent)))

	rl := RateLimited(errors.New("slow down"), 0)
	assert.ErrorIs(t, rl, ErrPublishTransient)
	assert.NotErrorIs(t, rl, ErrPublishPermanent)
	assert.Contains(t, (&PublishError{Kind: FailurePermanent, StatusCode: 401, Err: errors.New("expired")}).Error(), "status 401")
}
