package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSHA256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.bin")
	payload := []byte("fixed content for hashing")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := SHA256File(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sum := sha256.Sum256(payload)
	if got != hex.EncodeToString(sum[:]) {
		t.Errorf("hash mismatch: got %s", got)
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want ContentType
	}{
		{"pdf", []byte("%PDF-1.7\n%binary"), TypePDF},
		{"xml declaration", []byte("<?xml version=\"1.0\"?><Lieferung/>"), TypeXML},
		{"xml with leading whitespace", []byte("  \r\n\t<Envelope>data</Envelope>"), TypeXML},
		{"bare angle bracket no close", []byte("<incomplete"), TypeUnknown},
		{"gdv preamble", []byte("0001 12345Hanse Versicherung AG"), TypeGDV},
		{"gdv beats nothing else", []byte("00019999Vorsatz"), TypeGDV},
		{"plain text", []byte("Sehr geehrte Damen und Herren"), TypeUnknown},
		{"empty", nil, TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectType(tt.head); got != tt.want {
				t.Errorf("DetectType: got %q, want %q", got, tt.want)
			}
		})
	}
}

// gdvLine builds a fixed-width 0001 record with the given fields at their
// 1-based column positions.
func gdvLine(vu, sender, date string) string {
	line := []byte(strings.Repeat(" ", 100))
	copy(line, "0001")
	copy(line[4:], vu)
	copy(line[9:], sender)
	copy(line[69:], date)
	return string(line)
}

func TestExtractGDVHeader(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantVU     string
		wantSender string
		wantDate   string
	}{
		{
			name:       "full header",
			line:       gdvLine("12345", "Hanse Versicherung", "30042025"),
			wantVU:     "12345",
			wantSender: "Hanse Versicherung",
			wantDate:   "2025-04-30",
		},
		{
			name:       "missing vu",
			line:       gdvLine("     ", "Beispiel VU", "01012024"),
			wantVU:     FallbackVU,
			wantSender: "Beispiel VU",
			wantDate:   "2024-01-01",
		},
		{
			name:       "missing date",
			line:       gdvLine("54321", "Muster AG", "        "),
			wantVU:     "54321",
			wantSender: "Muster AG",
			wantDate:   FallbackDate,
		},
		{
			name:       "garbage date",
			line:       gdvLine("54321", "Muster AG", "3004ABCD"),
			wantVU:     "54321",
			wantSender: "Muster AG",
			wantDate:   FallbackDate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "delivery.gdv")
			content := "9999 leading noise\r\n" + tt.line + "\r\n0100 next record\r\n"
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			h, err := ExtractGDVHeader(path)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if h.VUNumber != tt.wantVU {
				t.Errorf("vu: got %q, want %q", h.VUNumber, tt.wantVU)
			}
			if h.Sender != tt.wantSender {
				t.Errorf("sender: got %q, want %q", h.Sender, tt.wantSender)
			}
			if h.Date != tt.wantDate {
				t.Errorf("date: got %q, want %q", h.Date, tt.wantDate)
			}
		})
	}
}

func TestExtractGDVHeaderCP1252Umlauts(t *testing.T) {
	// 0xFC is ü in cp1252; the sender must survive decoding.
	line := []byte(gdvLine("11111", "M nchener R ck", "15032025"))
	line[10] = 0xFC // Münchener
	line[20] = 0xFC // Rück
	path := filepath.Join(t.TempDir(), "umlaut.gdv")
	if err := os.WriteFile(path, line, 0o600); err != nil {
		t.Fatal(err)
	}
	h, err := ExtractGDVHeader(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if h.Sender != "Münchener Rück" {
		t.Errorf("sender: got %q, want Münchener Rück", h.Sender)
	}
}

func TestExtractGDVHeaderNoPreamble(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.gdv")
	if err := os.WriteFile(path, []byte("0200 something else\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractGDVHeader(path); err == nil {
		t.Fatal("expected error for file without 0001 record")
	}
}
