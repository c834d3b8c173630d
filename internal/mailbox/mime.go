// Package mailbox ingests documents from an IMAP account: unseen messages
// are fetched, their attachments extracted and handed to the container
// expander, and the messages flagged as seen.
package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/emersion/go-message/charset"
)

// Attachment is one file pulled out of a message.
type Attachment struct {
	Filename string
	MimeType string
	Content  []byte
}

// ExtractAttachments walks a raw RFC 5322 message and returns every
// attachment part. Nested multiparts are recursed; inline text parts are
// skipped.
func ExtractAttachments(raw []byte) ([]Attachment, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil
	}
	return walkMultipart(msg.Body, params["boundary"])
}

func walkMultipart(r io.Reader, boundary string) ([]Attachment, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart without boundary")
	}
	var out []Attachment
	mr := multipart.NewReader(r, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read part: %w", err)
		}

		mediaType, params, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			nested, err := walkMultipart(p, params["boundary"])
			if err != nil {
				return out, err
			}
			out = append(out, nested...)
			continue
		}

		name := partFilename(p)
		if name == "" {
			continue // inline body text
		}
		data, err := decodePart(p, p.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return out, fmt.Errorf("decode %s: %w", name, err)
		}
		out = append(out, Attachment{Filename: name, MimeType: mediaType, Content: data})
	}
}

// partFilename resolves the attachment name from Content-Disposition first
// and the Content-Type name parameter second, decoding RFC 2047 words.
// Insurer mail gateways still emit ISO-8859-1 names, hence the extended
// charset reader.
func partFilename(p *multipart.Part) string {
	name := p.FileName()
	if name == "" {
		if _, params, err := mime.ParseMediaType(p.Header.Get("Content-Type")); err == nil {
			name = params["name"]
		}
	}
	if name == "" {
		return ""
	}
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	if decoded, err := dec.DecodeHeader(name); err == nil {
		name = decoded
	}
	return name
}

func decodePart(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newLineStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	return io.ReadAll(r)
}

// lineStripper removes CR/LF so the base64 decoder sees a clean stream.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader { return &lineStripper{r: r} }

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	w := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[w] = p[i]
		w++
	}
	if w == 0 && err == nil {
		return l.Read(p)
	}
	return w, err
}
