package parser

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Attachment is a MIME part that should be stored as a file
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the parsed form of one raw email
type Message struct {
	MessageID   string
	Subject     string
	Text        string
	HTML        string
	From        string
	To          string
	ToUnparsed  string
	ToAddresses []string
	Date        time.Time
	Attachments []Attachment
}

var eventIDPattern = regexp.MustCompile(`(?i)event[-\s]*id[:\s-]*(\d+)`)

// Parse reads a raw RFC 5322 message. fallbackDate is used when the Date
// header is missing or unparseable.
func Parse(raw []byte, fallbackDate time.Time) (*Message, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	msg := &Message{Date: fallbackDate}
	header := mr.Header

	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}

	if id, err := header.MessageID(); err == nil {
		msg.MessageID = id
	}

	msg.From = firstAddress(header, "From")

	msg.ToUnparsed = headerText(header, "To")
	if list, err := header.AddressList("To"); err == nil {
		for _, addr := range list {
			msg.ToAddresses = append(msg.ToAddresses, NormalizeAddress(addr.Address))
		}
	}
	if len(msg.ToAddresses) == 0 {
		msg.ToAddresses = SplitAddresses(msg.ToUnparsed)
	}
	if len(msg.ToAddresses) > 0 {
		msg.To = msg.ToAddresses[0]
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}
		if part == nil {
			// undecodable charset, the part is skipped
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read part body: %w", err)
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, params, _ := h.ContentType()
			if contentType == "" {
				contentType = "text/plain"
			}
			name := params["name"]
			if _, dparams, err := h.ContentDisposition(); err == nil && dparams["filename"] != "" {
				name = dparams["filename"]
			}
			switch {
			case name == "" && contentType == "text/plain" && msg.Text == "":
				msg.Text = string(body)
			case name == "" && contentType == "text/html" && msg.HTML == "":
				msg.HTML = string(body)
			default:
				// named inline parts, other text types and extra bodies are files
				msg.Attachments = append(msg.Attachments, Attachment{
					Filename:    name,
					ContentType: contentType,
					Data:        body,
				})
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        body,
			})
		}
	}

	msg.HTML = DeriveHTML(msg.Text, msg.HTML)
	return msg, nil
}

// DeriveHTML returns html unchanged when present, otherwise an escaped
// <pre> block built from the plain text, otherwise an empty string.
func DeriveHTML(text, htmlBody string) string {
	if htmlBody != "" {
		return htmlBody
	}
	if text == "" {
		return ""
	}
	return "<pre>" + html.EscapeString(text) + "</pre>"
}

// ExtractEventID finds an "Event-ID: 42" style reference in a subject line.
// Casing and the separators between the words and the digits are free-form.
func ExtractEventID(subject string) *uint {
	matches := eventIDPattern.FindStringSubmatch(subject)
	if len(matches) < 2 {
		return nil
	}
	id, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return nil
	}
	eventID := uint(id)
	return &eventID
}

// NormalizeAddress lowercases and trims an address, stripping a display
// name when the input is a full "Name <addr>" form.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if parsed, err := gomail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	return strings.ToLower(address)
}

// SplitAddresses parses a raw address list header into normalized addresses.
// Unparseable input falls back to splitting on commas and semicolons.
func SplitAddresses(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if list, err := gomail.ParseAddressList(raw); err == nil {
		for _, addr := range list {
			out = append(out, strings.ToLower(addr.Address))
		}
		return out
	}
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		if addr := NormalizeAddress(field); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func firstAddress(header gomail.Header, key string) string {
	if list, err := header.AddressList(key); err == nil && len(list) > 0 {
		return NormalizeAddress(list[0].Address)
	}
	return NormalizeAddress(headerText(header, key))
}

// headerText decodes encoded words; an unknown charset yields the raw value
func headerText(header gomail.Header, key string) string {
	text, _ := header.Text(key)
	return text
}
