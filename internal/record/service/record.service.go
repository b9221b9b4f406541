package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"recordpad/internal/record/model"
	"recordpad/pkg/logger"
	"recordpad/pkg/metrics"
	"recordpad/pkg/record"
	"recordpad/store"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Publisher receives an event after every successful commit.
type Publisher interface {
	Publish(ctx context.Context, event record.Event)
}

type RecordService struct {
	Store store.Store
	Feed  Publisher
	cache *cache.Cache
	now   func() time.Time

	// generation counts store writes. A lookup only fills the cache when no
	// write finished while it was reading the store.
	cacheMu    sync.Mutex
	generation uint64
}

// Resolution is the outcome of a resource lookup: either a stored record or
// a location outside the service.
type Resolution struct {
	Record   *model.Record
	Location string
}

func NewRecordService(st store.Store, feed Publisher, cacheTTL time.Duration) *RecordService {
	return &RecordService{
		Store: st,
		Feed:  feed,
		cache: cache.New(cacheTTL, 2*cacheTTL),
		now:   time.Now,
	}
}

// DocumentID derives the ID of a commit from its exact document text, so
// committing the same text twice lands on the same record.
func DocumentID(documentText string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentText)).String()
}

func (s *RecordService) Commit(ctx context.Context, commit record.Commit) (err error) {
	doc, err := commit.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedDocument, err)
	}

	defer func() {
		if metrics.Registered {
			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.Commits.WithLabelValues(doc.Type, result).Inc()
		}
	}()

	switch doc.Type {
	case record.DocumentTypeCreate, record.DocumentTypeTimeline, record.DocumentTypeCollection:
		return s.insert(ctx, commit, doc)
	case record.DocumentTypeDelete:
		return s.delete(ctx, doc)
	default:
		return fmt.Errorf("%w: %s", model.ErrUnknownType, doc.Type)
	}
}

func (s *RecordService) insert(ctx context.Context, commit record.Commit, doc record.Document) error {
	id := DocumentID(commit.Document)
	now := s.now()

	var parentID string
	if doc.Reference != "" {
		parent, err := s.lookup(ctx, doc.Reference)
		if err != nil {
			return fmt.Errorf("reference %s: %w", doc.Reference, err)
		}
		parentID = parent.DocumentID
	}

	var owners []string
	if doc.Owner != "" {
		owners = append(owners, doc.Owner)
	}
	if doc.Signer != "" && doc.Signer != doc.Owner {
		owners = append(owners, doc.Signer)
	}

	entry := model.Entry{
		Log: model.CommitLog{
			ID:        id,
			Document:  commit.Document,
			Signature: commit.Signature,
			CDate:     now,
		},
		Record: model.Record{
			DocumentID: id,
			Key:        doc.Key,
			Value:      doc.Value,
			Owner:      doc.Owner,
			Signer:     doc.Signer,
			KeyID:      doc.KeyID,
			Schema:     doc.Schema,
			SignedAt:   doc.SignedAt,
			CDate:      now,
		},
		Owners:   owners,
		ParentID: parentID,
	}

	if err := s.Store.Insert(ctx, entry); err != nil {
		return err
	}

	// A key binding may have moved and superseded records are gone.
	s.invalidate()

	logger.Sugar.Infow("Committed document", "document_id", id, "owner", doc.Owner, "key", doc.Key, "type", doc.Type)
	s.publish(ctx, record.CommitEvent, entry.Record, owners)
	return nil
}

func (s *RecordService) delete(ctx context.Context, doc record.Document) error {
	if doc.Reference == "" {
		return fmt.Errorf("%w: delete without reference", model.ErrMalformedDocument)
	}
	target, err := s.lookup(ctx, doc.Reference)
	if err != nil {
		return fmt.Errorf("reference %s: %w", doc.Reference, err)
	}
	if err := s.Store.Delete(ctx, target.DocumentID); err != nil {
		return err
	}
	s.invalidate()

	logger.Sugar.Infow("Deleted document", "document_id", target.DocumentID, "owner", target.Owner)
	owners := []string{target.Owner}
	if target.Signer != "" && target.Signer != target.Owner {
		owners = append(owners, target.Signer)
	}
	s.publish(ctx, record.DeleteEvent, *target, owners)
	return nil
}

// Resolve looks up what a record URI names. It accepts the escaped form
// used in request paths.
func (s *RecordService) Resolve(ctx context.Context, escaped string) (res *Resolution, err error) {
	defer func() {
		if metrics.Registered {
			result := "found"
			switch {
			case errors.Is(err, model.ErrNotFound):
				result = "not_found"
			case err != nil:
				result = "error"
			case res.Location != "":
				result = "redirect"
			}
			metrics.Fetches.WithLabelValues(result).Inc()
		}
	}()

	uri, err := record.ParseURI(escaped)
	if err != nil {
		return nil, err
	}
	if uri.External != nil {
		return &Resolution{Location: uri.String()}, nil
	}

	rec, err := s.find(ctx, uri.Owner, uri.Key)
	if err != nil {
		return nil, err
	}
	return &Resolution{Record: rec}, nil
}

// Children lists the records that reference the record named by escaped.
func (s *RecordService) Children(ctx context.Context, escaped string) ([]model.Record, error) {
	parent, err := s.lookup(ctx, escaped)
	if err != nil {
		return nil, err
	}
	return s.Store.ListChildren(ctx, parent.DocumentID)
}

// lookup resolves a reference, which is either a bare document ID or a cc
// URI. References name a document ID first and only then an (owner, key)
// binding. They are read from the store, never from the cache, since the
// result is written back as a relation.
func (s *RecordService) lookup(ctx context.Context, ref string) (*model.Record, error) {
	var owner, key string
	uri, err := record.ParseURI(ref)
	switch {
	case errors.Is(err, record.ErrUnsupportedScheme):
		key = ref
	case err != nil:
		return nil, err
	case uri.External != nil:
		return nil, fmt.Errorf("%w: external reference", model.ErrNotFound)
	default:
		owner, key = uri.Owner, uri.Key
	}

	rec, err := s.Store.GetByID(ctx, key)
	if errors.Is(err, model.ErrNotFound) && owner != "" {
		rec, err = s.Store.GetByKey(ctx, owner, key)
	}
	return rec, err
}

// find tries the (owner, key) binding first and falls back to treating key
// as a document ID.
func (s *RecordService) find(ctx context.Context, owner, key string) (*model.Record, error) {
	cacheKey := owner + "/" + key
	if x, found := s.cache.Get(cacheKey); found {
		return x.(*model.Record), nil
	}

	s.cacheMu.Lock()
	gen := s.generation
	s.cacheMu.Unlock()

	rec, err := s.Store.GetByKey(ctx, owner, key)
	if errors.Is(err, model.ErrNotFound) {
		rec, err = s.Store.GetByID(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	if s.generation == gen {
		s.cache.Set(cacheKey, rec, cache.DefaultExpiration)
	}
	s.cacheMu.Unlock()
	return rec, nil
}

// invalidate drops every cached lookup after a store write.
func (s *RecordService) invalidate() {
	s.cacheMu.Lock()
	s.generation++
	s.cache.Flush()
	s.cacheMu.Unlock()
}

func (s *RecordService) publish(ctx context.Context, kind string, rec model.Record, owners []string) {
	if s.Feed == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s event: %v", kind, err)
		return
	}
	s.Feed.Publish(ctx, record.Event{
		Type:       kind,
		DocumentID: rec.DocumentID,
		Owners:     owners,
		Key:        rec.Key,
		Payload:    payload,
	})
}
