package mailer

import (
	"context"
	"encoding/base64"
	"net/http"

	xoauth2 "golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	apperrors "crm-mailer/internal/common/errors"
)

// Sender submits a raw message through a provider send endpoint.
type Sender interface {
	Send(ctx context.Context, accessToken string, raw []byte) (messageID, threadID string, err error)
}

// GmailSender sends through the Gmail API on behalf of the linked account
// ("me" in Gmail terms). A service client is built per call because each
// call may carry a different account's token.
type GmailSender struct {
	// endpoint overrides the Gmail API base URL; empty means production.
	endpoint   string
	httpClient *http.Client
}

func NewGmailSender() *GmailSender {
	return &GmailSender{}
}

// NewGmailSenderWithEndpoint targets a non-production API base URL and
// skips credential resolution. Used against httptest servers.
func NewGmailSenderWithEndpoint(endpoint string, httpClient *http.Client) *GmailSender {
	return &GmailSender{endpoint: endpoint, httpClient: httpClient}
}

func (g *GmailSender) Send(ctx context.Context, accessToken string, raw []byte) (string, string, error) {
	opts := []option.ClientOption{}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
		if g.httpClient != nil {
			opts = append(opts, option.WithHTTPClient(g.httpClient))
		} else {
			opts = append(opts, option.WithoutAuthentication())
		}
	} else {
		opts = append(opts, option.WithTokenSource(
			xoauth2.StaticTokenSource(&xoauth2.Token{AccessToken: accessToken})))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", "", apperrors.SendFailed("failed to create gmail client", err)
	}

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	sent, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", "", apperrors.SendFailed("provider rejected message", err)
	}

	return sent.Id, sent.ThreadId, nil
}
