package textnorm

import (
	"strings"
	"unicode/utf8"
)

// Lemmatizer reduces a lowercase token to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

// NounLemmatizer is a rule-based English noun lemmatizer. It mirrors the
// suffix rules of WordNet's morphy for nouns, without the dictionary lookup,
// and is stable: Lemma(Lemma(w)) == Lemma(w).
type NounLemmatizer struct{}

var irregularNouns = map[string]string{
	"men":       "man",
	"women":     "woman",
	"children":  "child",
	"mice":      "mouse",
	"geese":     "goose",
	"feet":      "foot",
	"teeth":     "tooth",
	"lice":      "louse",
	"oxen":      "ox",
	"wives":     "wife",
	"lives":     "life",
	"knives":    "knife",
	"wolves":    "wolf",
	"leaves":    "leaf",
	"thieves":   "thief",
	"halves":    "half",
	"selves":    "self",
	"shelves":   "shelf",
	"loaves":    "loaf",
	"criteria":  "criterion",
	"phenomena": "phenomenon",
	"analyses":  "analysis",
	"crises":    "crisis",
	"theses":    "thesis",
	"diagnoses": "diagnosis",
	"cacti":     "cactus",
	"fungi":     "fungus",
	"alumni":    "alumnus",
	"indices":   "index",
	"matrices":  "matrix",
}

// Words that look plural but are their own lemma.
var invariantNouns = map[string]struct{}{
	"news": {}, "series": {}, "species": {}, "physics": {}, "mathematics": {},
	"politics": {}, "economics": {}, "ethics": {}, "athletics": {}, "gymnastics": {},
	"olympics": {}, "pants": {}, "trousers": {}, "scissors": {}, "glasses": {},
	"jeans": {}, "clothes": {}, "always": {}, "perhaps": {}, "thanks": {},
	"christmas": {}, "texas": {}, "vegas": {}, "paris": {}, "chaos": {}, "kudos": {},
	"lens": {}, "atlas": {}, "canvas": {}, "bias": {}, "alias": {}, "pancreas": {},
	"whereas": {}, "lots": {}, "means": {}, "headquarters": {}, "odds": {},
	"specimen": {}, "abdomen": {}, "regimen": {}, "stamen": {}, "acumen": {},
	"semen": {}, "hymen": {}, "yemen": {},
}

// Nouns ending in -ie whose plural -ies must not become -y.
var ieNouns = map[string]struct{}{
	"movie": {}, "cookie": {}, "zombie": {}, "rookie": {}, "pie": {}, "tie": {},
	"lie": {}, "die": {}, "calorie": {}, "hippie": {}, "genie": {}, "brownie": {},
	"selfie": {}, "smoothie": {}, "prairie": {}, "sortie": {}, "goalie": {},
	"hoodie": {}, "newbie": {}, "yuppie": {}, "groupie": {},
	"auntie": {}, "budgie": {}, "bookie": {}, "walkie": {}, "indie": {}, "roomie": {},
	"aussie": {}, "techie": {}, "foodie": {}, "junkie": {}, "freebie": {}, "sweetie": {},
	"talkie": {},
}

// Lemma returns the noun lemma of word. Rules are applied until the word no
// longer changes.
func (NounLemmatizer) Lemma(word string) string {
	for {
		next := lemmaStep(word)
		if next == word {
			return word
		}
		word = next
	}
}

func lemmaStep(word string) string {
	if l, ok := irregularNouns[word]; ok {
		return l
	}
	if _, ok := invariantNouns[word]; ok {
		return word
	}
	if utf8.RuneCountInString(word) < 4 {
		return word
	}
	switch {
	case strings.HasSuffix(word, "sses"):
		return strings.TrimSuffix(word, "es")
	case strings.HasSuffix(word, "ies"):
		stem := strings.TrimSuffix(word, "ies")
		if _, ok := ieNouns[stem+"ie"]; ok {
			return stem + "ie"
		}
		return stem + "y"
	case strings.HasSuffix(word, "xes"), strings.HasSuffix(word, "ches"), strings.HasSuffix(word, "shes"):
		return strings.TrimSuffix(word, "es")
	case strings.HasSuffix(word, "men") && len(word) > 4:
		return strings.TrimSuffix(word, "men") + "man"
	case strings.HasSuffix(word, "ss"), strings.HasSuffix(word, "us"), strings.HasSuffix(word, "is"):
		return word
	case strings.HasSuffix(word, "s"):
		return strings.TrimSuffix(word, "s")
	}
	return word
}
