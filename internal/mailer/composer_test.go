package mailer

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-mailer/internal/common/errors"
)

func validComposeRequest() *ComposeRequest {
	return &ComposeRequest{
		FromName: "Sales Team",
		From:     "sender@example.com",
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "Quarterly check-in",
		BodyText: "Plain text body",
		BodyHTML: "<p>HTML body</p>",
	}
}

func TestComposeRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ComposeRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *ComposeRequest) {}},
		{name: "empty recipients", mutate: func(r *ComposeRequest) { r.To = nil }, wantErr: true},
		{name: "missing sender", mutate: func(r *ComposeRequest) { r.From = "" }, wantErr: true},
		{name: "missing subject", mutate: func(r *ComposeRequest) { r.Subject = "" }, wantErr: true},
		{name: "no body at all", mutate: func(r *ComposeRequest) { r.BodyText, r.BodyHTML = "", "" }, wantErr: true},
		{name: "text only is fine", mutate: func(r *ComposeRequest) { r.BodyHTML = "" }},
		{name: "malformed recipient", mutate: func(r *ComposeRequest) { r.To = []string{"not-an-email"} }, wantErr: true},
		{name: "malformed cc", mutate: func(r *ComposeRequest) { r.Cc = []string{"missing@tld"} }, wantErr: true},
		{name: "malformed bcc", mutate: func(r *ComposeRequest) { r.Bcc = []string{"@example.com"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validComposeRequest()
			tt.mutate(req)
			err := req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompose(t *testing.T) {
	raw, err := Compose(validComposeRequest())
	require.NoError(t, err)
	msg := string(raw)

	assert.Contains(t, msg, "Subject: Quarterly check-in")
	assert.Contains(t, msg, "To: <to@example.com>")
	assert.Contains(t, msg, "Cc: <cc@example.com>")
	assert.Contains(t, msg, `"Sales Team" <sender@example.com>`)
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")
	assert.Contains(t, msg, "Plain text body")
	assert.Contains(t, msg, "<p>HTML body</p>")
}

var boundaryPattern = regexp.MustCompile(`boundary=([0-9a-f]+)`)

func TestCompose_FreshBoundaryPerMessage(t *testing.T) {
	first, err := Compose(validComposeRequest())
	require.NoError(t, err)
	second, err := Compose(validComposeRequest())
	require.NoError(t, err)

	b1 := boundaryPattern.FindStringSubmatch(string(first))
	b2 := boundaryPattern.FindStringSubmatch(string(second))
	require.Len(t, b1, 2, "first message has no multipart boundary")
	require.Len(t, b2, 2, "second message has no multipart boundary")

	assert.NotEqual(t, b1[1], b2[1], "boundary must be generated fresh per message")
}

func TestCompose_TextOnly(t *testing.T) {
	req := validComposeRequest()
	req.BodyHTML = ""

	raw, err := Compose(req)
	require.NoError(t, err)

	msg := string(raw)
	assert.Contains(t, msg, "text/plain")
	assert.False(t, strings.Contains(msg, "text/html"))
}
