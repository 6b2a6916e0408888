package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Concrete errors wrap one of these so callers can
// branch with errors.Is.
var (
	ErrDataLoad           = errors.New("data load failed")
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	ErrStoreConnection    = errors.New("store connection failed")
	ErrSchemaMismatch     = errors.New("vector dimension mismatch")
	ErrBulkWrite          = errors.New("bulk write failed")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrEncoderMismatch    = errors.New("encoder does not match corpus")
	ErrCorpusNotFound     = errors.New("corpus not found")
	ErrRecordNotFound     = errors.New("record not found")
)

// DataLoadError reports an unreadable or unparseable raw source.
type DataLoadError struct {
	Source string
	Line   int
	Err    error
}

func (e *DataLoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *DataLoadError) Unwrap() []error { return []error{ErrDataLoad, e.Err} }

// SchemaMismatchError reports a vector whose length differs from the corpus dimension.
type SchemaMismatchError struct {
	ID   int64
	Want int
	Got  int
}

func (e *SchemaMismatchError) Error() string {
	if e.ID < 0 {
		return fmt.Sprintf("query vector has dimension %d, corpus expects %d", e.Got, e.Want)
	}
	return fmt.Sprintf("record %d has dimension %d, corpus expects %d", e.ID, e.Got, e.Want)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// RecordError attaches a record ID to a per-record failure.
type RecordError struct {
	ID  int64
	Err error
}

func (e *RecordError) Error() string { return fmt.Sprintf("record %d: %v", e.ID, e.Err) }

func (e *RecordError) Unwrap() error { return e.Err }

// BulkWriteError aggregates per-record failures of a bulk write. The prior
// corpus has already been deleted when this is returned.
type BulkWriteError struct {
	Total  int
	Failed int
	Errs   []error
}

func (e *BulkWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bulk write: %d of %d records failed", e.Failed, e.Total)
	for i, err := range e.Errs {
		if i == 3 {
			fmt.Fprintf(&b, " (and %d more)", len(e.Errs)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *BulkWriteError) Unwrap() []error {
	return append([]error{ErrBulkWrite}, e.Errs...)
}

// InvalidQueryError reports bad caller input, detected before the store is touched.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return "invalid query: " + e.Reason }

func (e *InvalidQueryError) Unwrap() error { return ErrInvalidQuery }

// EncoderMismatchError reports a query encoder that differs from the one that
// built the corpus.
type EncoderMismatchError struct {
	CorpusModel string
	CorpusDim   int
	QueryModel  string
	QueryDim    int
}

func (e *EncoderMismatchError) Error() string {
	return fmt.Sprintf("corpus built with %s (dim %d), query encoder is %s (dim %d)",
		e.CorpusModel, e.CorpusDim, e.QueryModel, e.QueryDim)
}

func (e *EncoderMismatchError) Unwrap() error { return ErrEncoderMismatch }

// StoreError wraps a connection-level failure of a backend.
func StoreError(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrStoreConnection, err)
}
