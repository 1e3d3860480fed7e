package nats

import (
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// NewSnapshotter creates a snapshotter keeping the latest snapshot of each
// stream in a JetStream key/value bucket.
func NewSnapshotter(cfg KvConfig) (*es.KeyValueSnapshotter, error) {
	kv, err := NewKvStore(cfg)
	if err != nil {
		return nil, es.StorageError("snapshot bucket", err)
	}
	return es.NewKeyValueSnapshotter(kv), nil
}

// NewCpStore creates a projection checkpoint store on a JetStream key/value
// bucket.
func NewCpStore(cfg KvConfig) (*es.KeyValueCpStore, error) {
	kv, err := NewKvStore(cfg)
	if err != nil {
		return nil, es.StorageError("checkpoint bucket", err)
	}
	return es.NewKeyValueCpStore(kv), nil
}
