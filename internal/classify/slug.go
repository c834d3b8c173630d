package classify

import "strings"

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// Slug turns a free-form string into a filename component: German umlauts
// are transliterated, every run of non-alphanumeric characters collapses to
// one underscore, and an empty result becomes "unbekannt".
func Slug(s string) string {
	s = umlauts.Replace(s)
	var b strings.Builder
	inRun := false
	for _, r := range s {
		keep := r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if keep {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unbekannt"
	}
	return out
}
