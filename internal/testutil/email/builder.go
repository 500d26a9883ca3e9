// Package email provides test helpers for constructing raw RFC 2822 messages
// as sync would deliver them.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
)

// Attachment represents a MIME attachment for the builder.
type Attachment struct {
	Filename    string
	ContentType string
	Inline      bool
	ContentID   string
	Data        []byte // raw bytes; will be base64-encoded
}

// MessageBuilder constructs MIME messages with a fluent API.
// Messages use \r\n line endings.
type MessageBuilder struct {
	from        string
	to          string
	cc          string
	bcc         string
	subject     string
	date        string
	messageID   string
	references  string
	inboxID     string
	contentType string
	body        string
	headerKeys  []string
	headerVals  []string
	attachments []Attachment
	boundary    string
}

// NewMessage creates a MessageBuilder with sensible defaults.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		from:     "sender@example.com",
		to:       "recipient@example.com",
		date:     "Mon, 01 Jan 2024 12:00:00 +0000",
		subject:  "Test Message",
		body:     "This is a test message body.",
		boundary: "mailcore-boundary",
	}
}

func (b *MessageBuilder) From(v string) *MessageBuilder    { b.from = v; return b }
func (b *MessageBuilder) To(v string) *MessageBuilder      { b.to = v; return b }
func (b *MessageBuilder) Cc(v string) *MessageBuilder      { b.cc = v; return b }
func (b *MessageBuilder) Bcc(v string) *MessageBuilder     { b.bcc = v; return b }
func (b *MessageBuilder) Subject(v string) *MessageBuilder { b.subject = v; return b }
func (b *MessageBuilder) Date(v string) *MessageBuilder    { b.date = v; return b }
func (b *MessageBuilder) Body(v string) *MessageBuilder    { b.body = v; return b }

// MessageID sets the Message-Id header; angle brackets are added.
func (b *MessageBuilder) MessageID(v string) *MessageBuilder { b.messageID = v; return b }

// References sets the References header from bare message ids.
func (b *MessageBuilder) References(ids ...string) *MessageBuilder {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<" + id + ">"
	}
	b.references = strings.Join(parts, " ")
	return b
}

// InboxID sets the X-Inbox-Id header stamped on API-sent messages.
func (b *MessageBuilder) InboxID(v string) *MessageBuilder { b.inboxID = v; return b }

// ContentType overrides the Content-Type header (for non-multipart messages).
func (b *MessageBuilder) ContentType(v string) *MessageBuilder { b.contentType = v; return b }

// Header adds an arbitrary header.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.headerKeys = append(b.headerKeys, key)
	b.headerVals = append(b.headerVals, value)
	return b
}

// WithAttachment adds an attachment part.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	return b
}

// WithInline adds an inline part referenced by Content-Id.
func (b *MessageBuilder) WithInline(filename, contentType, contentID string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Inline:      true,
		ContentID:   contentID,
		Data:        data,
	})
	return b
}

// Bytes builds the complete MIME message.
func (b *MessageBuilder) Bytes() []byte {
	const nl = "\r\n"
	var s strings.Builder

	s.WriteString("From: " + b.from + nl)
	s.WriteString("To: " + b.to + nl)
	if b.cc != "" {
		s.WriteString("Cc: " + b.cc + nl)
	}
	if b.bcc != "" {
		s.WriteString("Bcc: " + b.bcc + nl)
	}
	s.WriteString("Subject: " + b.subject + nl)
	if b.date != "" {
		s.WriteString("Date: " + b.date + nl)
	}
	if b.messageID != "" {
		s.WriteString("Message-Id: <" + b.messageID + ">" + nl)
	}
	if b.references != "" {
		s.WriteString("References: " + b.references + nl)
	}
	if b.inboxID != "" {
		s.WriteString("X-Inbox-Id: " + b.inboxID + nl)
	}
	for i, k := range b.headerKeys {
		s.WriteString(k + ": " + b.headerVals[i] + nl)
	}

	if len(b.attachments) == 0 {
		ct := b.contentType
		if ct == "" {
			ct = `text/plain; charset="utf-8"`
		}
		s.WriteString("Content-Type: " + ct + nl)
		s.WriteString(nl)
		s.WriteString(b.body + nl)
		return []byte(s.String())
	}

	s.WriteString("MIME-Version: 1.0" + nl)
	s.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", b.boundary) + nl)
	s.WriteString(nl)
	s.WriteString("--" + b.boundary + nl)
	s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl)
	s.WriteString(nl)
	s.WriteString(b.body + nl)

	for _, att := range b.attachments {
		s.WriteString("--" + b.boundary + nl)
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		disp := "attachment"
		if att.Inline {
			disp = "inline"
		}
		s.WriteString(fmt.Sprintf("Content-Type: %s; name=%q", ct, att.Filename) + nl)
		s.WriteString(fmt.Sprintf("Content-Disposition: %s; filename=%q", disp, att.Filename) + nl)
		if att.ContentID != "" {
			s.WriteString("Content-Id: <" + att.ContentID + ">" + nl)
		}
		s.WriteString("Content-Transfer-Encoding: base64" + nl)
		s.WriteString(nl)
		s.WriteString(base64.StdEncoding.EncodeToString(att.Data) + nl)
	}
	s.WriteString("--" + b.boundary + "--" + nl)
	return []byte(s.String())
}

// AssertStringSliceEqual compares two string slices with a descriptive label.
func AssertStringSliceEqual(t *testing.T, got, want []string, label string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: got %v (len %d), want %v (len %d)", label, got, len(got), want, len(want))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %q, want %q", label, i, got[i], want[i])
		}
	}
}
