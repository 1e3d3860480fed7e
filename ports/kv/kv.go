// Package kv is the key/value port used for snapshots and projection
// checkpoints. Implementations live in adapters (NATS KV) or here (memory).
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
)

type Entry struct {
	Data []byte
	// Revision is assigned by the store on every put and increases per key.
	Revision uint64
}

type Store interface {
	Put(ctx context.Context, key string, data []byte) (revision uint64, err error)
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

func PutJSON[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, key, data)
	return err
}

func GetJSON[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	err = json.Unmarshal(entry.Data, &out)
	return
}

// Key joins parts with '.', replacing characters that are not valid in NATS
// KV keys.
func Key(parts ...string) string {
	clean := make([]string, len(parts))
	for i, p := range parts {
		clean[i] = keyReplacer.Replace(p)
	}
	return strings.Join(clean, ".")
}

var keyReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", ":", "_", "/", "_")
