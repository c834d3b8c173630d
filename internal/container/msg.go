package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/unicode"

	"github.com/acencia/atlas/internal/archive"
)

// MAPI property streams inside an attachment storage. The 001F suffix means
// UTF-16LE string, 0102 means binary.
const (
	msgAttachPrefix   = "__attach_version1.0"
	propShortFilename = "__substg1.0_3704001F"
	propLongFilename  = "__substg1.0_3707001F"
	propAttachData    = "__substg1.0_37010102"
)

// msgAttachment is one extracted Outlook attachment.
type msgAttachment struct {
	name string
	data []byte
}

// expandMsg queues the .msg container as roh and recurses into its
// attachments. Nested containers inside attachments produce their own roh
// records via the recursion.
func (e *Expander) expandMsg(path string) ([]Job, error) {
	jobs := []Job{{Path: path, Name: e.uniqueName(filepath.Base(path)), Placement: archive.BoxRoh}}

	attachments, err := readMsgAttachments(path)
	if err != nil {
		return jobs, fmt.Errorf("read msg %s: %w", filepath.Base(path), err)
	}
	if len(attachments) == 0 {
		return jobs, nil
	}

	dir, err := e.tempDir()
	if err != nil {
		return jobs, err
	}
	for _, att := range attachments {
		target := filepath.Join(dir, filepath.Base(att.name))
		if err := os.WriteFile(target, att.data, 0o600); err != nil {
			return jobs, fmt.Errorf("write attachment %s: %w", att.name, err)
		}
		sub, err := e.expandOne(target)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, sub...)
	}
	return jobs, nil
}

// readMsgAttachments walks the OLE2 compound file and collects the filename
// and payload streams of every attachment storage.
func readMsgAttachments(path string) ([]msgAttachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("parse compound file: %w", err)
	}

	parts := map[string]*partialAttachment{}

	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		storage := attachStorage(entry.Path)
		if storage == "" {
			continue
		}
		p := parts[storage]
		if p == nil {
			p = &partialAttachment{}
			parts[storage] = p
		}
		switch entry.Name {
		case propShortFilename:
			if b, err := io.ReadAll(entry); err == nil {
				p.short = decodeUTF16LE(b)
			}
		case propLongFilename:
			if b, err := io.ReadAll(entry); err == nil {
				p.long = decodeUTF16LE(b)
			}
		case propAttachData:
			if b, err := io.ReadAll(entry); err == nil {
				p.data = b
			}
		}
	}

	var out []msgAttachment
	for i, p := range sortedPartials(parts) {
		if len(p.data) == 0 {
			continue
		}
		name := p.long
		if name == "" {
			name = p.short
		}
		if name == "" {
			name = fmt.Sprintf("attachment_%d.bin", i+1)
		}
		out = append(out, msgAttachment{name: name, data: p.data})
	}
	return out, nil
}

type partialAttachment struct {
	short, long string
	data        []byte
}

// sortedPartials orders attachments by storage name so extraction order is
// stable across runs.
func sortedPartials(parts map[string]*partialAttachment) []*partialAttachment {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*partialAttachment, len(keys))
	for i, k := range keys {
		out[i] = parts[k]
	}
	return out
}

// attachStorage returns the attachment storage segment of an entry path, or
// "" when the entry does not belong to an attachment.
func attachStorage(path []string) string {
	for _, seg := range path {
		if strings.HasPrefix(seg, msgAttachPrefix) {
			return seg
		}
	}
	return ""
}

func decodeUTF16LE(b []byte) string {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := dec.String(string(b))
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00")
}
