package content

import (
	"bytes"
	"errors"
	"regexp"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy        = bluemonday.UGCPolicy()
	identityRegex = regexp.MustCompile(`^[a-zA-Z0-9._@-]+$`)

	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for user inputs like identities and raw message text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts markdown message text to HTML and sanitizes the result.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateIdentity checks that an identity (username or email) contains
// only allowed characters and is not empty.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return errors.New("identity cannot be empty")
	}
	if !identityRegex.MatchString(identity) {
		return errors.New("identity contains invalid characters (allowed: alphanumeric, dot, dash, underscore, @)")
	}
	return nil
}

// SniffAttachment detects the attachment kind and MIME type from the
// first bytes of the payload. The client-declared MIME type is ignored.
func SniffAttachment(data []byte) (kind, mime string) {
	if filetype.IsImage(data) {
		t, _ := filetype.Match(data)
		return "image", t.MIME.Value
	}
	t, err := filetype.Match(data)
	if err != nil || t == filetype.Unknown {
		return "file", "application/octet-stream"
	}
	return "file", t.MIME.Value
}
