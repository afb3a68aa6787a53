package storage

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	filenamePrefix    = "veo"
	promptSlugLength  = 30
	defaultPromptSlug = "video"
)

// NoIndex marks a single-job filename without a batch index.
const NoIndex = -1

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Filename builds "veo_<slug>[_<index>]_<unix>.mp4" from a prompt.
func Filename(prompt string, index int, now time.Time) string {
	parts := []string{filenamePrefix, Slug(prompt, promptSlugLength)}
	if index >= 0 {
		parts = append(parts, strconv.Itoa(index))
	}
	parts = append(parts, strconv.FormatInt(now.Unix(), 10))
	return strings.Join(parts, "_") + ".mp4"
}

// Slug keeps letters, digits and dashes, folds diacritics, joins words with
// underscores and truncates to maxLen characters.
func Slug(text string, maxLen int) string {
	folded, _, err := transform.String(stripMarks, text)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_':
			pendingSep = true
		}
	}

	slug := []rune(b.String())
	if maxLen > 0 && len(slug) > maxLen {
		slug = slug[:maxLen]
	}
	out := strings.TrimRight(string(slug), "_")
	if out == "" {
		return defaultPromptSlug
	}
	return out
}
