package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recordpad/internal/record/model"
	"recordpad/internal/record/repository"
	"recordpad/pkg/record"
	"recordpad/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

type recordingFeed struct {
	mu     sync.Mutex
	events []record.Event
}

func (f *recordingFeed) Publish(ctx context.Context, event record.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *recordingFeed) all() []record.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Event(nil), f.events...)
}

func newService(t *testing.T) (*RecordService, *recordingFeed) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	repo := repository.WrapLevelDB(db)
	t.Cleanup(func() { repo.Close() })

	feed := &recordingFeed{}
	return NewRecordService(repo, feed, time.Minute), feed
}

func seal(t *testing.T, doc record.Document) record.Commit {
	commit, err := record.Seal(doc)
	require.NoError(t, err)
	return commit
}

var signedAt = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func TestCommitAndResolve(t *testing.T) {
	svc, feed := newService(t)
	ctx := context.Background()

	commit := seal(t, record.NewMessage("hello", "world", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, commit))

	res, err := svc.Resolve(ctx, "cc%3A%2F%2Fuser000%2Fhello")
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Equal(t, "world", res.Record.Value)
	assert.Equal(t, DocumentID(commit.Document), res.Record.DocumentID)

	byID, err := svc.Resolve(ctx, "cc://user000/"+res.Record.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.DocumentID, byID.Record.DocumentID)

	events := feed.all()
	require.Len(t, events, 1)
	assert.Equal(t, record.CommitEvent, events[0].Type)
	assert.Equal(t, []string{"user000"}, events[0].Owners)

	var payload model.Record
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "world", payload.Value)
}

func TestCommitSameTextIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	commit := seal(t, record.NewMessage("hello", "world", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, commit))
	require.NoError(t, svc.Commit(ctx, commit))

	res, err := svc.Resolve(ctx, "cc://user000/hello")
	require.NoError(t, err)
	assert.Equal(t, DocumentID(commit.Document), res.Record.DocumentID)
}

func TestCommitRebindsKeyAndInvalidatesCache(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first := seal(t, record.NewMessage("status", "draft", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, first))

	res, err := svc.Resolve(ctx, "cc://user000/status")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.Record.Value)

	second := seal(t, record.NewMessage("status", "final", "user000", signedAt.Add(time.Second)))
	require.NoError(t, svc.Commit(ctx, second))

	res, err = svc.Resolve(ctx, "cc://user000/status")
	require.NoError(t, err)
	assert.Equal(t, "final", res.Record.Value)

	_, err = svc.Resolve(ctx, "cc://user000/"+DocumentID(first.Document))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCommitFilesUnderSignerToo(t *testing.T) {
	svc, feed := newService(t)

	doc := record.NewMessage("k", "v", "alice", signedAt)
	doc.Signer = "bob"
	require.NoError(t, svc.Commit(context.Background(), seal(t, doc)))

	events := feed.all()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"alice", "bob"}, events[0].Owners)
}

func TestCommitWithReference(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Commit(ctx, seal(t, record.NewMessage("thread", "root", "user000", signedAt))))

	reply := record.NewMessage("", "reply", "user000", signedAt)
	reply.Reference = "cc://user000/thread"
	replyCommit := seal(t, reply)
	require.NoError(t, svc.Commit(ctx, replyCommit))

	children, err := svc.Children(ctx, "cc://user000/thread")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, DocumentID(replyCommit.Document), children[0].DocumentID)

	dangling := record.NewMessage("", "lost", "user000", signedAt)
	dangling.Reference = "cc://user000/missing"
	err = svc.Commit(ctx, seal(t, dangling))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCommitDelete(t *testing.T) {
	svc, feed := newService(t)
	ctx := context.Background()

	created := seal(t, record.NewMessage("hello", "world", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, created))
	_, err := svc.Resolve(ctx, "cc://user000/hello")
	require.NoError(t, err)

	del := record.NewMessage("", "", "user000", signedAt)
	del.Type = record.DocumentTypeDelete
	del.Reference = DocumentID(created.Document)
	require.NoError(t, svc.Commit(ctx, seal(t, del)))

	_, err = svc.Resolve(ctx, "cc://user000/hello")
	assert.ErrorIs(t, err, model.ErrNotFound)

	events := feed.all()
	require.Len(t, events, 2)
	assert.Equal(t, record.DeleteEvent, events[1].Type)
	assert.Equal(t, DocumentID(created.Document), events[1].DocumentID)

	del.Reference = ""
	assert.ErrorIs(t, svc.Commit(ctx, seal(t, del)), model.ErrMalformedDocument)
}

func TestCommitErrors(t *testing.T) {
	svc, feed := newService(t)
	ctx := context.Background()

	err := svc.Commit(ctx, record.Commit{Document: "{not json", Signature: record.PlaceholderSignature})
	assert.ErrorIs(t, err, model.ErrMalformedDocument)

	doc := record.NewMessage("k", "v", "user000", signedAt)
	doc.Type = "update"
	err = svc.Commit(ctx, seal(t, doc))
	assert.ErrorIs(t, err, model.ErrUnknownType)
	assert.ErrorContains(t, err, "update")

	assert.Empty(t, feed.all())
}

func TestResolveExternalAndInvalid(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, "https%3A%2F%2Fexample.com%2Fpost")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", res.Location)
	assert.Nil(t, res.Record)

	_, err = svc.Resolve(ctx, "mailto:someone")
	assert.ErrorIs(t, err, record.ErrUnsupportedScheme)

	_, err = svc.Resolve(ctx, "%zz")
	assert.ErrorIs(t, err, record.ErrInvalidURI)

	_, err = svc.Resolve(ctx, "cc://nobody/nothing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDocumentIDIsDeterministic(t *testing.T) {
	assert.Equal(t, DocumentID(`{"a":1}`), DocumentID(`{"a":1}`))
	assert.NotEqual(t, DocumentID(`{"a":1}`), DocumentID(`{"a":2}`))
}

// gatedStore parks the next GetByKey after it has read the store, until
// release is closed.
type gatedStore struct {
	store.Store
	armed   atomic.Bool
	parked  chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetByKey(ctx context.Context, owner, key string) (*model.Record, error) {
	rec, err := g.Store.GetByKey(ctx, owner, key)
	if g.armed.CompareAndSwap(true, false) {
		close(g.parked)
		<-g.release
	}
	return rec, err
}

func TestLookupRacingCommitDoesNotCacheStaleRecord(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	repo := repository.WrapLevelDB(db)
	t.Cleanup(func() { repo.Close() })

	gated := &gatedStore{Store: repo, parked: make(chan struct{}), release: make(chan struct{})}
	svc := NewRecordService(gated, &recordingFeed{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, svc.Commit(ctx, seal(t, record.NewMessage("hello", "v1", "u", signedAt))))

	gated.armed.Store(true)
	inFlight := make(chan *Resolution, 1)
	go func() {
		res, err := svc.Resolve(ctx, "cc://u/hello")
		assert.NoError(t, err)
		inFlight <- res
	}()
	<-gated.parked

	require.NoError(t, svc.Commit(ctx, seal(t, record.NewMessage("hello", "v2", "u", signedAt.Add(time.Second)))))
	close(gated.release)

	// The racing read may answer with what it saw, but must not cache it.
	assert.Equal(t, "v1", (<-inFlight).Record.Value)

	res, err := svc.Resolve(ctx, "cc://u/hello")
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Record.Value)
}

func TestReferencePrefersDocumentID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	byID := seal(t, record.NewMessage("x", "by id", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, byID))
	id := DocumentID(byID.Document)

	// A second record whose key collides with the first record's ID.
	byKey := seal(t, record.NewMessage(id, "by key", "user000", signedAt))
	require.NoError(t, svc.Commit(ctx, byKey))

	res, err := svc.Resolve(ctx, "cc://user000/"+id)
	require.NoError(t, err)
	assert.Equal(t, "by key", res.Record.Value)

	reply := record.NewMessage("", "reply", "user000", signedAt)
	reply.Reference = "cc://user000/" + id
	require.NoError(t, svc.Commit(ctx, seal(t, reply)))

	children, err := svc.Store.ListChildren(ctx, id)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "reply", children[0].Value)

	children, err = svc.Store.ListChildren(ctx, DocumentID(byKey.Document))
	require.NoError(t, err)
	assert.Empty(t, children)
}
