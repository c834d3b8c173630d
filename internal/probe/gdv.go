package probe

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	// FallbackVU replaces a missing VU number so derived filenames stay
	// deterministic.
	FallbackVU = "Xvu"
	// FallbackDate replaces a missing or unparseable creation date.
	FallbackDate = "kDatum"
)

// GDVHeader is the parsed 0001 preamble of a GDV delivery.
type GDVHeader struct {
	VUNumber string // columns 5-9, FallbackVU when blank
	Sender   string // columns 10-39, trimmed
	Date     string // columns 70-77 DDMMYYYY, as ISO YYYY-MM-DD, FallbackDate when blank
}

// HasVU reports whether a real VU number was present.
func (h GDVHeader) HasVU() bool { return h.VUNumber != FallbackVU }

// HasSender reports whether the sender field was non-blank.
func (h GDVHeader) HasSender() bool { return h.Sender != "" }

// ExtractGDVHeader finds the first 0001 record and parses its fixed
// columns. The column positions are 1-based per the GDV record layout.
func ExtractGDVHeader(path string) (GDVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return GDVHeader{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := decodeLegacy(scanner.Bytes())
		if !strings.HasPrefix(line, "0001") {
			continue
		}
		return parsePreamble(line), nil
	}
	if err := scanner.Err(); err != nil {
		return GDVHeader{}, fmt.Errorf("scan %s: %w", path, err)
	}
	return GDVHeader{}, fmt.Errorf("no 0001 record in %s", path)
}

func parsePreamble(line string) GDVHeader {
	runes := []rune(line)

	h := GDVHeader{
		VUNumber: strings.TrimSpace(column(runes, 5, 5)),
		Sender:   strings.TrimSpace(column(runes, 10, 30)),
		Date:     isoDate(strings.TrimSpace(column(runes, 70, 8))),
	}
	if h.VUNumber == "" {
		h.VUNumber = FallbackVU
	}
	return h
}

// column extracts width runes starting at the 1-based position start.
func column(runes []rune, start, width int) string {
	from := start - 1
	if from >= len(runes) {
		return ""
	}
	to := from + width
	if to > len(runes) {
		to = len(runes)
	}
	return string(runes[from:to])
}

// isoDate converts DDMMYYYY to YYYY-MM-DD, returning FallbackDate for
// anything that does not look like a date.
func isoDate(raw string) string {
	if len(raw) != 8 {
		return FallbackDate
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return FallbackDate
		}
	}
	return raw[4:8] + "-" + raw[2:4] + "-" + raw[0:2]
}
