package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Metadata field names, shared by every component that reads or writes a
// Record. Backends derive their mapping or payload layout from these.
const (
	FieldTitle       = "title"
	FieldType        = "type"
	FieldDirector    = "director"
	FieldCast        = "cast"
	FieldRating      = "rating"
	FieldDescription = "description"
	FieldReleaseYear = "release_year"

	// FieldVector is the name of the embedding field.
	FieldVector = "feature_vector"
)

// MetadataFields lists the displayed metadata fields in canonical order.
var MetadataFields = []string{
	FieldTitle,
	FieldType,
	FieldDirector,
	FieldCast,
	FieldRating,
	FieldDescription,
	FieldReleaseYear,
}

// Metadata is the displayable part of a Record. Vectors are never part of it.
type Metadata struct {
	Title       string `json:"title" msgpack:"title"`
	Type        string `json:"type" msgpack:"type"`
	Director    string `json:"director" msgpack:"director"`
	Cast        string `json:"cast" msgpack:"cast"`
	Rating      string `json:"rating" msgpack:"rating"`
	Description string `json:"description" msgpack:"description"`
	ReleaseYear int    `json:"release_year" msgpack:"release_year"`
}

// Record is one indexed item: metadata plus its feature vector.
// ID is the row position in the ingestion batch and is stable for the
// lifetime of a corpus generation.
type Record struct {
	ID       int64     `msgpack:"id"`
	Metadata Metadata  `msgpack:"metadata"`
	Vector   []float32 `msgpack:"vector"`
}

// ScoredRecord is a search hit. Score is cosine similarity shifted by +1 into [0,2].
type ScoredRecord struct {
	Record Record
	Score  float64
}

// Schema is the single definition of a corpus layout.
type Schema struct {
	Name      string
	Dimension int
}

// Validate checks that a schema can back a corpus.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schema: empty corpus name")
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("schema: invalid dimension %d", s.Dimension)
	}
	return nil
}

// CorpusInfo is the version tag of one corpus generation.
type CorpusInfo struct {
	Name         string    `json:"name" msgpack:"name"`
	EncoderModel string    `json:"encoder_model" msgpack:"encoder_model"`
	Dimension    int       `json:"dimension" msgpack:"dimension"`
	Count        int       `json:"count" msgpack:"count"`
	Generation   string    `json:"generation" msgpack:"generation"`
	CreatedAt    time.Time `json:"created_at" msgpack:"created_at"`
}

// RawRow is one row from the raw tabular source, keyed by column name.
type RawRow map[string]string

// Get returns the value of field, or "" when the field is absent.
func (r RawRow) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Metadata extracts the displayable fields of the row. An empty release year
// is 0; a value that is not a whole number is an error. Spreadsheet exports
// often write years as floats ("2019.0"), which are accepted.
func (r RawRow) Metadata() (Metadata, error) {
	year, err := ParseYear(r.Get(FieldReleaseYear))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Title:       r.Get(FieldTitle),
		Type:        r.Get(FieldType),
		Director:    r.Get(FieldDirector),
		Cast:        r.Get(FieldCast),
		Rating:      r.Get(FieldRating),
		Description: r.Get(FieldDescription),
		ReleaseYear: year,
	}, nil
}

// ParseYear parses a release year column value.
func ParseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s %q is not a year", FieldReleaseYear, s)
	}
	return int(f), nil
}
