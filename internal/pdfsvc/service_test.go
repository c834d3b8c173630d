package pdfsvc

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestPartitionEmpty(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []int
	}{
		{"all filled", []string{"Versicherungsschein Nr. 12345", "Seite zwei mit Inhalt"}, nil},
		{"one empty", []string{"Inhalt der ersten Seite", "", "Inhalt der dritten Seite"}, []int{1}},
		{"whitespace only counts as empty", []string{"   \n\t  ", "echter Inhalt hier"}, []int{0}},
		{"short fragments count as empty", []string{"a b c", "Vertragsunterlagen Seite"}, []int{0}},
		{"all empty", []string{"", " ", ""}, []int{0, 1, 2}},
		{"no pages", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := partitionEmpty(tt.texts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("partitionEmpty: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageSelection(t *testing.T) {
	got := pageSelection([]int{0, 2, 5})
	want := []string{"1", "3", "6"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pageSelection: got %v, want %v", got, want)
	}
}

func TestIsEncryptedMarker(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.pdf")
	if err := os.WriteFile(plain, []byte("%PDF-1.4\ntrailer<</Root 1 0 R>>\n%%EOF"), 0o600); err != nil {
		t.Fatal(err)
	}
	enc := filepath.Join(dir, "enc.pdf")
	if err := os.WriteFile(enc, []byte("%PDF-1.4\ntrailer<</Encrypt 5 0 R/Root 1 0 R>>\n%%EOF"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got, err := isEncrypted(plain); err != nil || got {
		t.Errorf("plain: got (%v, %v), want (false, nil)", got, err)
	}
	if got, err := isEncrypted(enc); err != nil || !got {
		t.Errorf("encrypted: got (%v, %v), want (true, nil)", got, err)
	}
}

func TestUnlockNoPasswordFits(t *testing.T) {
	// A file that is not even a PDF fails every decrypt attempt; the typed
	// error must be ErrEncrypted, not a generic failure.
	path := filepath.Join(t.TempDir(), "locked.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 /Encrypt garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New()
	err := s.Unlock(path, []string{"test1", "test2"})
	if !errors.Is(err, ErrEncrypted) {
		t.Errorf("unlock: got %v, want ErrEncrypted", err)
	}
	// No stray temp file.
	if _, err := os.Stat(path + ".unlocked.pdf"); !os.IsNotExist(err) {
		t.Error("unlock left a temp file behind")
	}
}

func TestValidateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New()
	_, err := s.Validate(path, nil)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("validate: got %v, want ErrCorrupt", err)
	}
}

func TestValidateEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.pdf")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := New()
	_, err := s.Validate(path, nil)
	if err == nil {
		t.Fatal("expected error for 0-byte file")
	}
	if !errors.Is(err, ErrCorrupt) && !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("validate: got %v, want corrupt classification", err)
	}
}
