package mailer

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/emersion/go-message/mail"

	apperrors "crm-mailer/internal/common/errors"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ComposeRequest carries everything needed to build one outbound message.
type ComposeRequest struct {
	FromName string
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	BodyText string
	BodyHTML string
}

// Validate rejects malformed requests before any network traffic. An empty
// recipient list and syntactically invalid addresses are caller errors.
func (r *ComposeRequest) Validate() error {
	if len(r.To) == 0 {
		return apperrors.ValidationError("at least one recipient is required")
	}
	if r.From == "" {
		return apperrors.ValidationError("sender address is required")
	}
	if r.Subject == "" {
		return apperrors.ValidationError("subject is required")
	}
	if r.BodyText == "" && r.BodyHTML == "" {
		return apperrors.ValidationError("message body is required")
	}

	for _, lists := range [][]string{r.To, r.Cc, r.Bcc} {
		for _, addr := range lists {
			if !emailPattern.MatchString(addr) {
				return apperrors.ValidationError(fmt.Sprintf("invalid email address: %s", addr))
			}
		}
	}
	return nil
}

// Compose renders the request as a raw RFC 5322 message with a
// multipart/alternative body. The multipart boundary is generated fresh for
// every message; a reused boundary appearing in a body would corrupt the
// message.
func Compose(req *ComposeRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Name: req.FromName, Address: req.From}})
	header.SetAddressList("To", toAddressList(req.To))
	if len(req.Cc) > 0 {
		header.SetAddressList("Cc", toAddressList(req.Cc))
	}
	if len(req.Bcc) > 0 {
		header.SetAddressList("Bcc", toAddressList(req.Bcc))
	}
	header.SetSubject(req.Subject)

	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, apperrors.InternalError("failed to create message writer", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, apperrors.InternalError("failed to create message body", err)
	}

	if req.BodyText != "" {
		var th mail.InlineHeader
		th.Set("Content-Type", "text/plain; charset=utf-8")
		part, err := iw.CreatePart(th)
		if err != nil {
			return nil, apperrors.InternalError("failed to create text part", err)
		}
		if _, err := io.WriteString(part, req.BodyText); err != nil {
			return nil, apperrors.InternalError("failed to write text part", err)
		}
		if err := part.Close(); err != nil {
			return nil, apperrors.InternalError("failed to close text part", err)
		}
	}

	if req.BodyHTML != "" {
		var hh mail.InlineHeader
		hh.Set("Content-Type", "text/html; charset=utf-8")
		part, err := iw.CreatePart(hh)
		if err != nil {
			return nil, apperrors.InternalError("failed to create html part", err)
		}
		if _, err := io.WriteString(part, req.BodyHTML); err != nil {
			return nil, apperrors.InternalError("failed to write html part", err)
		}
		if err := part.Close(); err != nil {
			return nil, apperrors.InternalError("failed to close html part", err)
		}
	}

	if err := iw.Close(); err != nil {
		return nil, apperrors.InternalError("failed to close message body", err)
	}
	// Close finalizes the multipart framing; a message without it is not
	// valid MIME.
	if err := mw.Close(); err != nil {
		return nil, apperrors.InternalError("failed to finalize message", err)
	}

	return buf.Bytes(), nil
}

func toAddressList(addrs []string) []*mail.Address {
	list := make([]*mail.Address, len(addrs))
	for i, addr := range addrs {
		list[i] = &mail.Address{Address: addr}
	}
	return list
}
