package envstore

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketMeta = []byte("env_meta")

// boltIndex mirrors {env_id: ctime_unixnano, size} in an embedded bbolt
// file so Expire can skip a full directory scan once the store holds
// many environments. It is an accelerator only: the filesystem is the
// source of truth, and the index is rebuilt from disk whenever it is
// missing or empty. If it fails to open, the store runs without it and
// Expire uses directory scans.
type boltIndex struct {
	db *bolt.DB
}

func openBoltIndex(path string) (*boltIndex, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &boltIndex{db: db}, nil
}

func (b *boltIndex) Close() error {
	return b.db.Close()
}

func (b *boltIndex) put(id string, ctime time.Time, size int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 16)
		binary.BigEndian.PutUint64(buf[0:8], uint64(ctime.UnixNano()))
		binary.BigEndian.PutUint64(buf[8:16], uint64(size))
		return tx.Bucket(bucketMeta).Put([]byte(id), buf)
	})
}

func (b *boltIndex) delete(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete([]byte(id))
	})
}

func (b *boltIndex) isEmpty() (bool, error) {
	empty := true
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMeta).Cursor()
		if k, _ := c.First(); k != nil {
			empty = false
		}
		return nil
	})
	return empty, err
}

func (b *boltIndex) listOlderThan(cutoff time.Time) ([]string, error) {
	var ids []string
	cutoffNano := cutoff.UnixNano()
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				return nil
			}
			ctime := int64(binary.BigEndian.Uint64(v[0:8]))
			if ctime <= cutoffNano {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}
