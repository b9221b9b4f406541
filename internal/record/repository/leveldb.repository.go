package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"recordpad/internal/record/model"
	"recordpad/pkg/logger"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout. Parts after the prefix are joined with sep so that an owner
// cannot collide with a key prefix.
const (
	sep = "\x00"

	prefixLog      = "log:"   // id -> CommitLog
	prefixRecord   = "rec:"   // id -> Record
	prefixOwner    = "own:"   // id sep owner -> nil
	prefixKey      = "key:"   // owner sep key -> id
	prefixChildOf  = "rel:p:" // parent sep child -> nil
	prefixParentOf = "rel:c:" // child sep parent -> nil
)

var syncWrite = &opt.WriteOptions{Sync: true}

// LevelDBRepository is the embedded store. Writers are serialized by mx and
// every commit is applied as a single batch.
type LevelDBRepository struct {
	db *leveldb.DB
	mx sync.Mutex
}

func NewLevelDBRepository(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBRepository{db: db}, nil
}

// WrapLevelDB uses an already opened database, e.g. one on memory storage.
func WrapLevelDB(db *leveldb.DB) *LevelDBRepository {
	return &LevelDBRepository{db: db}
}

func (r *LevelDBRepository) Insert(ctx context.Context, entry model.Entry) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	id := entry.Record.DocumentID
	rec := entry.Record

	exists, err := r.db.Has([]byte(prefixLog+id), nil)
	if err != nil {
		return err
	}

	var oldID string
	if rec.Key != "" {
		v, err := r.db.Get([]byte(keyBinding(rec.Owner, rec.Key)), nil)
		if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return err
		}
		oldID = string(v)
	}
	superseding := oldID != "" && oldID != id

	b := new(leveldb.Batch)

	if !exists {
		logBytes, err := msgpack.Marshal(entry.Log)
		if err != nil {
			return err
		}
		recBytes, err := msgpack.Marshal(rec)
		if err != nil {
			return err
		}
		b.Put([]byte(prefixLog+id), logBytes)
		b.Put([]byte(prefixRecord+id), recBytes)
		for _, owner := range entry.Owners {
			b.Put([]byte(prefixOwner+id+sep+owner), nil)
		}
	}

	// A reference to the record being superseded would be cascaded away.
	if entry.ParentID != "" && !(superseding && entry.ParentID == oldID) {
		putRelation(b, entry.ParentID, id)
	}

	if rec.Key != "" {
		if superseding {
			if err := r.supersede(b, oldID, id); err != nil {
				return err
			}
		}
		// Must come after supersede, which clears the binding of oldID.
		b.Put([]byte(keyBinding(rec.Owner, rec.Key)), []byte(id))
	}

	if err := r.db.Write(b, syncWrite); err != nil {
		logger.Sugar.Errorf("Failed to insert record %s: %v", id, err)
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (r *LevelDBRepository) supersede(b *leveldb.Batch, oldID, newID string) error {
	for _, child := range r.suffixes(prefixChildOf + oldID + sep) {
		if child != newID {
			putRelation(b, newID, child)
		}
	}
	for _, parent := range r.suffixes(prefixParentOf + oldID + sep) {
		if parent != newID {
			putRelation(b, parent, newID)
		}
	}
	return r.deleteAll(b, oldID)
}

func (r *LevelDBRepository) Delete(ctx context.Context, documentID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	exists, err := r.db.Has([]byte(prefixLog+documentID), nil)
	if err != nil {
		return err
	}
	if !exists {
		return model.ErrNotFound
	}

	b := new(leveldb.Batch)
	if err := r.deleteAll(b, documentID); err != nil {
		return err
	}
	if err := r.db.Write(b, syncWrite); err != nil {
		logger.Sugar.Errorf("Failed to delete record %s: %v", documentID, err)
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// deleteAll queues removal of id and every row that refers to it.
func (r *LevelDBRepository) deleteAll(b *leveldb.Batch, id string) error {
	rec, err := r.getRecord(id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if rec != nil && rec.Key != "" {
		binding := keyBinding(rec.Owner, rec.Key)
		v, err := r.db.Get([]byte(binding), nil)
		if err == nil && string(v) == id {
			b.Delete([]byte(binding))
		}
	}

	for _, owner := range r.suffixes(prefixOwner + id + sep) {
		b.Delete([]byte(prefixOwner + id + sep + owner))
	}
	for _, child := range r.suffixes(prefixChildOf + id + sep) {
		deleteRelation(b, id, child)
	}
	for _, parent := range r.suffixes(prefixParentOf + id + sep) {
		deleteRelation(b, parent, id)
	}

	b.Delete([]byte(prefixRecord + id))
	b.Delete([]byte(prefixLog + id))
	return nil
}

func (r *LevelDBRepository) GetByKey(ctx context.Context, owner, key string) (*model.Record, error) {
	id, err := r.db.Get([]byte(keyBinding(owner, key)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.getRecord(string(id))
}

func (r *LevelDBRepository) GetByID(ctx context.Context, documentID string) (*model.Record, error) {
	return r.getRecord(documentID)
}

func (r *LevelDBRepository) ListChildren(ctx context.Context, parentID string) ([]model.Record, error) {
	var records []model.Record
	for _, child := range r.suffixes(prefixChildOf + parentID + sep) {
		rec, err := r.getRecord(child)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CDate.Before(records[j].CDate)
	})
	return records, nil
}

func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}

func (r *LevelDBRepository) getRecord(id string) (*model.Record, error) {
	data, err := r.db.Get([]byte(prefixRecord+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec model.Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// suffixes lists what follows prefix in every key that starts with it.
func (r *LevelDBRepository) suffixes(prefix string) []string {
	it := r.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), prefix))
	}
	return out
}

func keyBinding(owner, key string) string {
	return prefixKey + owner + sep + key
}

func putRelation(b *leveldb.Batch, parent, child string) {
	b.Put([]byte(prefixChildOf+parent+sep+child), nil)
	b.Put([]byte(prefixParentOf+child+sep+parent), nil)
}

func deleteRelation(b *leveldb.Batch, parent, child string) {
	b.Delete([]byte(prefixChildOf + parent + sep + child))
	b.Delete([]byte(prefixParentOf + child + sep + parent))
}
