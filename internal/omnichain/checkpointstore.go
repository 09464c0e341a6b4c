package omnichain

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evmweave/indexer/pkg/models"
)

// checkpointStoreBucket holds one JSON-encoded models.ChainCheckpoint per
// configured chain: the engine's full latest/safe/finalized triple.
const checkpointStoreBucket = "omnichain_checkpoints"

type checkpointStore struct {
	db *bbolt.DB
}

func newCheckpointStore(path string) (*checkpointStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("omnichain: open checkpoint db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointStoreBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("omnichain: create checkpoint bucket: %w", err)
	}
	return &checkpointStore{db: db}, nil
}

func (c *checkpointStore) Close() error { return c.db.Close() }

func (c *checkpointStore) save(cp models.ChainCheckpoint) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointStoreBucket))
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("omnichain: marshal checkpoint: %w", err)
		}
		return b.Put([]byte(cp.ChainName), data)
	})
}

// load returns the persisted checkpoint for chainName, or ok=false if
// this is the chain's first run (no crash-recovery checkpoint yet).
func (c *checkpointStore) load(chainName string) (models.ChainCheckpoint, bool, error) {
	var cp models.ChainCheckpoint
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(checkpointStoreBucket))
		data := b.Get([]byte(chainName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	return cp, found, err
}
