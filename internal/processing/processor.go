package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

var (
	urlRegex    = regexp.MustCompile(`https?://[^\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "of": {}, "on": {},
	"and": {}, "with": {}, "from": {}, "that": {}, "this": {}, "after": {}, "over": {},
	"says": {}, "said": {}, "will": {}, "have": {}, "been": {}, "their": {}, "about": {},
	"и": {}, "в": {}, "на": {}, "с": {}, "по": {}, "к": {},
	"что": {}, "как": {}, "это": {}, "из": {}, "от": {}, "до": {},
}

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CleanText strips HTML entities, URLs and punctuation and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ExtractKeywords returns the most frequent words of texts that are not
// stop-words, ties broken alphabetically.
func ExtractKeywords(texts []string, limit, minLen int) []string {
	freq := make(map[string]int)
	for _, text := range texts {
		for _, token := range strings.Fields(strings.ToLower(CleanText(text))) {
			token = strings.TrimFunc(token, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsNumber(r)
			})
			if len([]rune(token)) < minLen {
				continue
			}
			if _, skip := stopwords[token]; skip {
				continue
			}
			freq[token]++
		}
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for word := range freq {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] == freq[words[j]] {
			return words[i] < words[j]
		}
		return freq[words[i]] > freq[words[j]]
	})

	if limit > 0 && limit < len(words) {
		words = words[:limit]
	}
	return words
}

// BuildDocumentID hashes the most stable fields to form deterministic IDs.
func BuildDocumentID(title, text string, ts time.Time) string {
	s := sha1.Sum([]byte(title + "|" + text + "|" + ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}

// TitleFromText uses the first sentence of text, cut to maxWords words.
func TitleFromText(text string, maxWords int) string {
	text = urlRegex.ReplaceAllString(text, " ")
	if end := strings.IndexAny(text, ".!?"); end > 0 {
		text = text[:end]
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

// ParseTimestamp accepts the common feed timestamp layouts. It returns the
// zero time for anything else.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, f := range timestampFormats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
