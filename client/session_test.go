package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDefaults(t *testing.T) {
	s := NewSession(nil)
	assert.Equal(t, DefaultUsername, s.Username())
	assert.Empty(t, s.Key())
	assert.Empty(t, s.Draft())
	assert.Empty(t, s.RecordURI())
	assert.Empty(t, s.Response())
}

func TestSessionSettersAreIndependent(t *testing.T) {
	s := NewSession(nil)

	s.SetKey("k")
	assert.Equal(t, "k", s.Key())
	assert.Empty(t, s.Draft())
	assert.Equal(t, DefaultUsername, s.Username())

	s.SetDraft("d")
	s.SetUsername("alice")
	s.SetRecordURI("cc://alice/k")

	assert.Equal(t, "k", s.Key())
	assert.Equal(t, "d", s.Draft())
	assert.Equal(t, "alice", s.Username())
	assert.Equal(t, "cc://alice/k", s.RecordURI())
	assert.Empty(t, s.Response())
}

func TestSessionSnapshot(t *testing.T) {
	s := NewSession(nil)
	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	s.SetKey("hello")
	s.SetDraft("world")

	doc := s.Snapshot()
	assert.Equal(t, "hello", doc.Key)
	assert.Equal(t, "world", doc.Value)
	assert.Equal(t, DefaultUsername, doc.Owner)
	assert.Equal(t, DefaultUsername, doc.Signer)
	assert.Equal(t, at, doc.SignedAt)
}

func TestSessionRapidCommitsAreIndependent(t *testing.T) {
	rc := &recorder{reply: `{"status":"ok"}`}
	s := NewSession(newTestClient(t, rc))

	s.SetKey("k")
	s.SetDraft("first")
	s.Commit()
	s.SetDraft("second")
	s.Commit()

	require.Eventually(t, func() bool { return len(rc.all()) == 2 }, 5*time.Second, 10*time.Millisecond)

	values := map[string]bool{}
	for _, req := range rc.all() {
		_, doc := openBody(t, req.body)
		values[doc.Value] = true
	}
	assert.Equal(t, map[string]bool{"first": true, "second": true}, values)
}

func TestSessionFetch(t *testing.T) {
	rc := &recorder{reply: `{"content":"world"}`}
	s := NewSession(newTestClient(t, rc))
	s.SetRecordURI("cc://user000/hello")

	require.NoError(t, s.Fetch(context.Background()))
	assert.Equal(t, "{\n  \"content\": \"world\"\n}", s.Response())
	assert.Equal(t, "/resource/cc://user000/hello", rc.all()[0].requestURI)
}

func TestSessionFetchKeepsResponseOnError(t *testing.T) {
	rc := &recorder{reply: `{"content":"world"}`}
	s := NewSession(newTestClient(t, rc))
	require.NoError(t, s.Fetch(context.Background()))
	before := s.Response()

	rc.mu.Lock()
	rc.reply = "not json"
	rc.mu.Unlock()

	assert.Error(t, s.Fetch(context.Background()))
	assert.Equal(t, before, s.Response())
}
