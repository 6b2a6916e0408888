// Package textnorm builds the encodable feature text of a row: word-punct
// tokenization, lowercasing, stopword and punctuation removal and optional
// noun lemmatization.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

// Missing is returned for input that is not a string, so that callers can
// always concatenate the result.
const Missing = " "

var wordPunct = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]+`)

// Normalizer cleans free text. It holds no mutable state and is safe for
// concurrent use.
type Normalizer struct {
	stopwords  map[string]struct{}
	lemmatizer Lemmatizer
}

// New creates a Normalizer for the given stopword language ("english" when empty).
func New(language string) (*Normalizer, error) {
	sw, err := Stopwords(language)
	if err != nil {
		return nil, err
	}
	return &Normalizer{stopwords: sw, lemmatizer: NounLemmatizer{}}, nil
}

// WithLemmatizer replaces the default noun lemmatizer.
func (n *Normalizer) WithLemmatizer(l Lemmatizer) *Normalizer {
	cp := *n
	cp.lemmatizer = l
	return &cp
}

// Normalize cleans text. A nil text yields Missing.
func (n *Normalizer) Normalize(text *string, lemmatize bool) string {
	if text == nil {
		return Missing
	}
	return n.NormalizeString(*text, lemmatize)
}

// NormalizeValue accepts any value; anything that is not a string yields Missing.
func (n *Normalizer) NormalizeValue(v any, lemmatize bool) string {
	s, ok := v.(string)
	if !ok {
		return Missing
	}
	return n.NormalizeString(s, lemmatize)
}

// NormalizeString cleans text and joins the surviving tokens with single
// spaces. The result is empty when nothing survives.
func (n *Normalizer) NormalizeString(text string, lemmatize bool) string {
	raw := wordPunct.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.ToLower(tok)
		if n.isStopword(tok) {
			continue
		}
		if !isAlpha(tok) && !isNumeric(tok) {
			continue
		}
		if lemmatize {
			tok = n.lemmatizer.Lemma(tok)
			// a lemma can land on a stopword ("dos" -> "do")
			if n.isStopword(tok) {
				continue
			}
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func (n *Normalizer) isStopword(tok string) bool {
	_, ok := n.stopwords[tok]
	return ok
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
