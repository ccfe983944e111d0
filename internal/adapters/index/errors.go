package index

import "errors"

var (
	// ErrDocumentNotFound indicates the id has no entry in the
	// category's bucket.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyDocumentID indicates a Put with no id.
	ErrEmptyDocumentID = errors.New("document id is empty")

	// ErrUnknownCounterOp indicates a CounterCmd with an op outside
	// the declared set.
	ErrUnknownCounterOp = errors.New("unknown counter operation")
)
