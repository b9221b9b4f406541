package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnknownType       = errors.New("unknown document type")
	ErrMalformedDocument = errors.New("malformed document")
)

// CommitLog is the envelope exactly as it was received.
type CommitLog struct {
	ID        string    `json:"id" msgpack:"id"`
	Document  string    `json:"document" msgpack:"document"`
	Signature string    `json:"signature" msgpack:"signature"`
	CDate     time.Time `json:"cdate" msgpack:"cdate"`
}

// Record is the stored, queryable form of a committed document.
type Record struct {
	DocumentID string    `json:"id" msgpack:"id"`
	Key        string    `json:"key,omitempty" msgpack:"key"`
	Value      string    `json:"value" msgpack:"value"`
	Owner      string    `json:"owner" msgpack:"owner"`
	Signer     string    `json:"signer" msgpack:"signer"`
	KeyID      string    `json:"keyID,omitempty" msgpack:"key_id"`
	Schema     string    `json:"schema" msgpack:"schema"`
	SignedAt   time.Time `json:"signedAt" msgpack:"signed_at"`
	CDate      time.Time `json:"cdate" msgpack:"cdate"`
}

// Entry is everything one insert commit writes, applied atomically.
type Entry struct {
	Log    CommitLog
	Record Record
	// Owners are the identities the commit is filed under: owner, plus
	// signer when it differs.
	Owners []string
	// ParentID is the resolved reference, empty when the document has none.
	ParentID string
}

type CommitResponse struct {
	Status string `json:"status"`
}

type ResourceResponse struct {
	Content string `json:"content"`
}

type RedirectResponse struct {
	Location string `json:"location"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ChildrenResponse struct {
	Children []Record `json:"children"`
}
