// Package hangul cleans up Korean text recognized from receipt images.
// Recognition output commonly carries fullwidth digits, stray jamo from
// partially recognized syllables, and digit/letter confusions inside
// amounts; the normalizer repairs these before field extraction.
package hangul

import (
	"regexp"
	"strings"
)

var (
	zeroWidthRe       = regexp.MustCompile("[​‌‍]")
	repeatedDashRe    = regexp.MustCompile(`[-_]{3,}`)
	repeatedEqualRe   = regexp.MustCompile(`={3,}`)
	loneConsonantRe   = regexp.MustCompile(`[ㄱ-ㅎ]([^ㄱ-ㅎㅏ-ㅣ가-힣]|$)`)
	loneVowelRe       = regexp.MustCompile(`[ㅏ-ㅣ]([^ㄱ-ㅎㅏ-ㅣ가-힣]|$)`)
	multiSpaceRe      = regexp.MustCompile(` {2,}`)
	spaceAroundNLRe   = regexp.MustCompile(` *\n *`)
	multiNewlineRe    = regexp.MustCompile(`\n{3,}`)
	amountConfusionRe = regexp.MustCompile(`[\d,oOlI]+\s*원`)
	hangulWordRe      = regexp.MustCompile(`[가-힣]{2,}`)
	hangulCharRe      = regexp.MustCompile(`[가-힣]`)
)

// Normalizer repairs recognition artifacts in Korean receipt text.
// The zero value is ready to use.
type Normalizer struct{}

// New returns a ready-to-use Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize applies the full cleanup sequence: width folding, artifact
// removal, stray-jamo removal and whitespace normalization. Always
// returns usable text; on empty input it returns the input unchanged.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	text = foldWidth(text)
	text = zeroWidthRe.ReplaceAllString(text, "")
	text = repeatedDashRe.ReplaceAllString(text, "-")
	text = repeatedEqualRe.ReplaceAllString(text, "=")
	text = removeStrayJamo(text)
	text = cleanWhitespace(text)

	return text
}

// CorrectAmountConfusions fixes o/O -> 0 and l/I -> 1 inside
// amount-shaped tokens only, so names like "Olive" are left alone.
// "1o,ooo원" becomes "10,000원".
func (n *Normalizer) CorrectAmountConfusions(text string) string {
	return amountConfusionRe.ReplaceAllStringFunc(text, func(amount string) string {
		replacer := strings.NewReplacer("o", "0", "O", "0", "l", "1", "I", "1")
		return replacer.Replace(amount)
	})
}

// ExtractWords returns all Hangul words of two or more syllables.
func (n *Normalizer) ExtractWords(text string) []string {
	return hangulWordRe.FindAllString(text, -1)
}

// IsKoreanText reports whether at least threshold of the non-whitespace
// characters are Hangul syllables.
func (n *Normalizer) IsKoreanText(text string, threshold float64) bool {
	compact := strings.NewReplacer(" ", "", "\n", "").Replace(text)
	if compact == "" {
		return false
	}

	hangulCount := len(hangulCharRe.FindAllString(compact, -1))
	ratio := float64(hangulCount) / float64(len([]rune(compact)))

	return ratio >= threshold
}

// foldWidth converts fullwidth digits and Latin letters to their ASCII
// halfwidth equivalents.
func foldWidth(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= '０' && r <= '９':
			r = '0' + (r - '０')
		case r >= 'Ａ' && r <= 'Ｚ':
			r = 'A' + (r - 'Ａ')
		case r >= 'ａ' && r <= 'ｚ':
			r = 'a' + (r - 'ａ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// removeStrayJamo drops isolated consonants and vowels left behind when
// a syllable was only partially recognized. Jamo directly followed by
// other Hangul are kept, since they may be part of intentional text.
func removeStrayJamo(text string) string {
	text = loneConsonantRe.ReplaceAllString(text, "$1")
	text = loneVowelRe.ReplaceAllString(text, "$1")
	return text
}

func cleanWhitespace(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = spaceAroundNLRe.ReplaceAllString(text, "\n")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
