package client

import (
	"context"
	"sync"
	"time"

	"recordpad/pkg/record"
)

const DefaultUsername = "user000"

// Session is the state behind an editing pad. Each field changes only
// through its own setter; Fetch is the one operation that writes Response.
type Session struct {
	client *Client
	now    func() time.Time

	mu        sync.Mutex
	key       string
	draft     string
	username  string
	recordURI string
	response  string
}

func NewSession(c *Client) *Session {
	return &Session{
		client:   c,
		now:      time.Now,
		username: DefaultUsername,
	}
}

func (s *Session) SetKey(v string) {
	s.mu.Lock()
	s.key = v
	s.mu.Unlock()
}

func (s *Session) SetDraft(v string) {
	s.mu.Lock()
	s.draft = v
	s.mu.Unlock()
}

func (s *Session) SetUsername(v string) {
	s.mu.Lock()
	s.username = v
	s.mu.Unlock()
}

func (s *Session) SetRecordURI(v string) {
	s.mu.Lock()
	s.recordURI = v
	s.mu.Unlock()
}

func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) RecordURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordURI
}

func (s *Session) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}

// Snapshot builds a new message document from the current fields, signed now.
func (s *Session) Snapshot() record.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return record.NewMessage(s.key, s.draft, s.username, s.now())
}

// Commit sends a snapshot and returns without waiting for the service.
func (s *Session) Commit() {
	s.client.CommitDocument(s.Snapshot())
}

// Wait blocks until the commits this session's client has in flight are done.
func (s *Session) Wait() {
	s.client.Wait()
}

// Fetch loads the record at the current URI into Response. On error
// Response keeps its previous value.
func (s *Session) Fetch(ctx context.Context) error {
	text, err := s.client.FetchRecord(ctx, s.RecordURI())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.response = text
	s.mu.Unlock()
	return nil
}
