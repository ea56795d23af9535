// Package peerstore keeps the last known membership view in leveldb.
//
// Layout:
//
//	version          -> varint schema version
//	peer:<ip:port>   -> varint unix nanoseconds last seen
package peerstore

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/amirimatin/go-rumors/pkg/membership"
	"github.com/amirimatin/go-rumors/pkg/state"
)

const version = 1

var (
	versionKey = []byte("version")
	peerPrefix = []byte("peer:")
)

// Store is a leveldb backed state.PeerStore.
type Store struct {
	db *leveldb.DB
}

var _ state.PeerStore = (*Store)(nil)

// Open opens the store at path. An empty path keeps everything in memory.
// A store written with another schema version is wiped.
func Open(path string) (*Store, error) {
	if path == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, errors.Wrap(err, "peerstore: open memory db")
		}
		return &Store{db: db}, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if _, ok := err.(*lerrors.ErrCorrupted); ok {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "peerstore: open %s", path)
	}

	want := encodeVarint(version)
	have, err := db.Get(versionKey, nil)
	switch {
	case err == leveldb.ErrNotFound:
		if err := db.Put(versionKey, want, nil); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "peerstore: write version")
		}
	case err != nil:
		_ = db.Close()
		return nil, errors.Wrap(err, "peerstore: read version")
	case !bytes.Equal(have, want):
		_ = db.Close()
		if err := os.RemoveAll(path); err != nil {
			return nil, errors.Wrapf(err, "peerstore: reset %s", path)
		}
		return Open(path)
	}
	return &Store{db: db}, nil
}

func peerKey(e membership.Endpoint) []byte {
	return append(append([]byte(nil), peerPrefix...), e.String()...)
}

// Save replaces the stored peers with entries in one batch.
func (s *Store) Save(entries map[membership.Endpoint]time.Time) error {
	batch := new(leveldb.Batch)
	itr := s.db.NewIterator(util.BytesPrefix(peerPrefix), nil)
	for itr.Next() {
		batch.Delete(append([]byte(nil), itr.Key()...))
	}
	itr.Release()
	if err := itr.Error(); err != nil {
		return errors.Wrap(err, "peerstore: scan")
	}
	for e, seen := range entries {
		batch.Put(peerKey(e), encodeVarint(seen.UnixNano()))
	}
	return errors.Wrap(s.db.Write(batch, nil), "peerstore: write")
}

// Load returns peers last seen at or after notBefore. Older or unreadable
// records are deleted.
func (s *Store) Load(notBefore time.Time) (map[membership.Endpoint]time.Time, error) {
	out := make(map[membership.Endpoint]time.Time)
	itr := s.db.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer itr.Release()

	for itr.Next() {
		key := itr.Key()
		e, err := membership.ParseEndpoint(string(key[len(peerPrefix):]))
		nanos, ok := decodeVarint(itr.Value())
		if err != nil || !ok {
			_ = s.db.Delete(append([]byte(nil), key...), nil)
			continue
		}
		seen := time.Unix(0, nanos)
		if seen.Before(notBefore) {
			_ = s.db.Delete(append([]byte(nil), key...), nil)
			continue
		}
		out[e] = seen
	}
	if err := itr.Error(); err != nil {
		return nil, errors.Wrap(err, "peerstore: scan")
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodeVarint(i int64) []byte {
	data := make([]byte, binary.MaxVarintLen64)
	n := binary.PutVarint(data, i)
	return data[:n]
}

func decodeVarint(b []byte) (int64, bool) {
	i, n := binary.Varint(b)
	return i, n > 0
}
