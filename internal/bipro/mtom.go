package bipro

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"regexp"
	"strings"
)

// xopInclude matches the self-closing include element MTOM responses use to
// point into sibling MIME parts.
var xopInclude = regexp.MustCompile(`<xop:Include[^>]*href="cid:([^"]+)"[^>]*/>`)

// ParseSOAPResponse normalises a 430 response body. MTOM multipart bodies
// are spliced back into a single envelope: every xop:Include is replaced by
// the Base64 of the MIME part its Content-ID names. Plain XML passes
// through unchanged.
func ParseSOAPResponse(contentType string, body io.Reader) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Carriers have been seen sending bare "text/xml"; fall back to
		// reading the body as-is.
		return drainReader(body)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return drainReader(body)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart response without boundary")
	}

	mr := multipart.NewReader(body, boundary)

	// First part is the SOAP root; the rest are binary attachments keyed
	// by Content-ID.
	var envelope []byte
	parts := map[string][]byte{}
	for i := 0; ; i++ {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		data, err := drainReader(p)
		if err != nil {
			return nil, fmt.Errorf("read part %d: %w", i, err)
		}
		if i == 0 {
			envelope = data
			continue
		}
		cid := strings.Trim(p.Header.Get("Content-ID"), "<>")
		if cid != "" {
			parts[cid] = data
		}
	}
	if envelope == nil {
		return nil, fmt.Errorf("multipart response without SOAP root part")
	}
	return spliceXOP(envelope, parts), nil
}

// spliceXOP replaces xop:Include references with the Base64 encoding of the
// referenced part so downstream parsing sees the pre-MTOM envelope shape.
func spliceXOP(envelope []byte, parts map[string][]byte) []byte {
	return xopInclude.ReplaceAllFunc(envelope, func(match []byte) []byte {
		sub := xopInclude.FindSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		data, ok := parts[string(sub[1])]
		if !ok {
			return match
		}
		return []byte(base64.StdEncoding.EncodeToString(data))
	})
}
