// Package embedded is the boltdb-backed alternative storage engine: a
// single-file B+Tree store instead of the log-structured engine's
// append-only generations. It satisfies the same engine.Engine contract so
// the server can be pointed at either backend without any caller-visible
// difference.
package embedded

import (
	"time"

	"github.com/boltdb/bolt"

	"github.com/launix-de/kvs/internal/engine"
)

var bucketName = []byte("kv")

// Embedded is a boltdb-backed engine.Engine. Unlike the log engine it needs
// no per-clone reader cache: boltdb already supports any number of
// concurrent read transactions against one *bolt.DB, and serializes writers
// internally, so Clone can simply hand out another reference to the same
// handle.
type Embedded struct {
	db    *bolt.DB
	owner bool
}

// Open opens (creating if absent) a boltdb file at path and ensures the
// key/value bucket exists.
func Open(path string) (*Embedded, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, engine.Wrap(engine.IO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, engine.Wrap(engine.IO, err)
	}
	return &Embedded{db: db, owner: true}, nil
}

func (e *Embedded) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v != nil {
			found = true
			value = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, engine.Wrap(engine.IO, err)
	}
	return value, found, nil
}

func (e *Embedded) Set(key, value string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		return engine.Wrap(engine.IO, err)
	}
	return nil
}

func (e *Embedded) Remove(key string) error {
	var existed bool
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		existed = b.Get([]byte(key)) != nil
		if !existed {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return engine.Wrap(engine.IO, err)
	}
	if !existed {
		return engine.ErrKeyNotFound
	}
	return nil
}

// Clone returns a non-owning handle to the same *bolt.DB; its Close is a
// no-op, since boltdb transactions are already safe to issue concurrently
// from many goroutines against one handle.
func (e *Embedded) Clone() engine.Engine {
	return &Embedded{db: e.db, owner: false}
}

func (e *Embedded) Close() error {
	if !e.owner {
		return nil
	}
	return e.db.Close()
}
