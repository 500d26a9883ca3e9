// Package mime parses raw messages handed over by sync into the fields the
// store needs for reconciliation and ingestion, using enmime.
package mime

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jhillyerd/enmime"
)

// HeaderInboxID carries the API-assigned id of a message that was sent
// through the API, either "<public_id>-<version>" or a legacy bare uid.
const HeaderInboxID = "X-Inbox-Id"

// SnippetLength is the maximum number of runes kept in a snippet.
const SnippetLength = 191

// Message represents a parsed synced message.
type Message struct {
	Subject     string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	MessageID   string
	References  []string
	InboxUID    string
	SHA256      string // hex digest of the raw bytes
	Snippet     string
	Attachments []Attachment
	Errors      []string // Non-fatal parsing errors
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string
	Email string
}

// Attachment is a non-body part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Disposition string // "attachment" or "inline"
	Size        int
	SHA256      string
	Content     []byte
}

// ParseSynced parses raw MIME data received from sync.
func ParseSynced(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	msg := &Message{
		Subject:   env.GetHeader("Subject"),
		MessageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>"),
		InboxUID:  strings.TrimSpace(env.GetHeader(HeaderInboxID)),
		SHA256:    hex.EncodeToString(sum[:]),
		From:      parseAddressList(env, "From"),
		To:        parseAddressList(env, "To"),
		Cc:        parseAddressList(env, "Cc"),
		Bcc:       parseAddressList(env, "Bcc"),
	}

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		msg.Date = parseDate(dateStr)
	}
	if refs := env.GetHeader("References"); refs != "" {
		msg.References = parseReferences(refs)
	}

	body := env.Text
	if body == "" && env.HTML != "" {
		body = StripHTML(env.HTML)
	}
	msg.Snippet = makeSnippet(body)

	msg.Attachments = append(msg.Attachments, collectParts(env.Attachments, "attachment")...)
	msg.Attachments = append(msg.Attachments, collectParts(env.Inlines, "inline")...)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}
	return msg, nil
}

// ReferencesHeader renders References back into header form.
func (m *Message) ReferencesHeader() string {
	if len(m.References) == 0 {
		return ""
	}
	parts := make([]string, len(m.References))
	for i, r := range m.References {
		parts[i] = "<" + r + ">"
	}
	return strings.Join(parts, " ")
}

func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:  addr.Name,
			Email: strings.ToLower(addr.Address),
		})
	}
	return addresses
}

// isBodyPart reports whether a text part without a filename or explicit
// attachment disposition is really message body.
func isBodyPart(part *enmime.Part) bool {
	ct := baseValue(part.ContentType)
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	return baseValue(part.Disposition) != "attachment"
}

// baseValue lowercases a header value and drops its parameters.
func baseValue(v string) string {
	v = strings.ToLower(v)
	if idx := strings.Index(v, ";"); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

func collectParts(parts []*enmime.Part, disposition string) []Attachment {
	var result []Attachment
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		sum := sha256.Sum256(part.Content)
		result = append(result, Attachment{
			Filename:    part.FileName,
			ContentType: baseValue(part.ContentType),
			ContentID:   strings.Trim(part.ContentID, "<>"),
			Disposition: disposition,
			Size:        len(part.Content),
			SHA256:      hex.EncodeToString(sum[:]),
			Content:     part.Content,
		})
	}
	return result
}

func parseReferences(refs string) []string {
	var result []string
	for _, ref := range strings.Fields(refs) {
		ref = strings.Trim(ref, "<>")
		if ref != "" {
			result = append(result, ref)
		}
	}
	return result
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate returns the UTC time of a Date header, or the zero time when
// no known layout matches.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	// Trailing "(PST)" style comments
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func makeSnippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= SnippetLength {
		return s
	}
	r := []rune(s)
	return string(r[:SnippetLength])
}

var (
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blockTagRe  = regexp.MustCompile(`(?i)</?(p|div|br|li|tr|h[1-6])[^>]*>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML removes tags and decodes entities, leaving line breaks where
// block elements were.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
