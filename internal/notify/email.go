// ABOUTME: Verification email composition from an embedded Markdown template
// ABOUTME: Markdown is rendered to HTML with goldmark; the source doubles as the text part

package notify

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
)

// LoginAttemptSubject is the subject of verification emails.
const LoginAttemptSubject = "Login Attempt"

//go:embed templates/*.md
var templatesFS embed.FS

var verificationTemplate = template.Must(template.ParseFS(templatesFS, "templates/verification.md"))

// Verification describes a first-login confirmation.
type Verification struct {
	To           string
	Link         string
	RelyingParty string
	DeviceName   string
	Validity     time.Duration
}

// VerificationMessage renders the confirmation email for v.
func VerificationMessage(v Verification) (Message, error) {
	if v.DeviceName == "" {
		v.DeviceName = "an unknown device"
	}
	var md bytes.Buffer
	if err := verificationTemplate.Execute(&md, struct {
		Verification
		Validity string
	}{v, humanDuration(v.Validity)}); err != nil {
		return Message{}, fmt.Errorf("rendering verification template: %w", err)
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		return Message{}, fmt.Errorf("converting markdown: %w", err)
	}

	return Message{
		To:      []string{v.To},
		Subject: LoginAttemptSubject,
		HTML:    html.String(),
		Text:    md.String(),
	}, nil
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
