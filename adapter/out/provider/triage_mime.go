package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"triage_server/core/domain"
)

const snippetLength = 200

// ParseRFC5322 parses a raw message into an Email without provider
// metadata. The first text/plain and text/html inline parts become the
// bodies; attachments are skipped.
func ParseRFC5322(raw []byte) (*domain.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	email := &domain.Email{}
	h := mr.Header

	if subject, err := h.Subject(); err == nil {
		email.Subject = domain.StringPtr(subject)
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.Sender = domain.Address{Email: from[0].Address, Name: from[0].Name}
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			email.Recipients = append(email.Recipients, domain.Address{Email: addr.Address, Name: addr.Name})
		}
	}
	if date, err := h.Date(); err == nil {
		email.Date = date.UTC()
	}

	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case mediaType == "text/html" && html == "":
			html = string(body)
		case (mediaType == "text/plain" || mediaType == "") && text == "":
			text = string(body)
		}
	}

	email.BodyText = domain.StringPtr(strings.TrimSpace(text))
	email.BodyHTML = domain.StringPtr(strings.TrimSpace(html))
	email.Snippet = snippet(text)
	return email, nil
}

func snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	r := []rune(s)
	if len(r) > snippetLength {
		return string(r[:snippetLength])
	}
	return s
}
