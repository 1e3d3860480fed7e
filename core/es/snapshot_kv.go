package es

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Truonghai2/BaultPHP-sub001/ports/kv"
)

// KeyValueSnapshotter keeps only the latest snapshot of every stream in a
// key/value store. Older snapshots never replace newer ones, so a load below
// the latest version finds nothing.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func snapshotKey(objType, objID string) string { return kv.Key("snapshot", objType, objID) }

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	cur, err := k.latest(ctx, snapshot.ObjType, snapshot.ObjID)
	switch {
	case err == nil && cur.ObjVersion > snapshot.ObjVersion:
		return nil
	case err != nil && !errors.Is(err, ErrSnapshotNotFound):
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = k.store.Put(ctx, snapshotKey(snapshot.ObjType, snapshot.ObjID), data)
	return err
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string, maxVersion Version) (*Snapshot, error) {
	s, err := k.latest(ctx, objType, objID)
	if err != nil {
		return nil, err
	}
	if s.ObjVersion > maxVersion {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

func (k *KeyValueSnapshotter) latest(ctx context.Context, objType, objID string) (*Snapshot, error) {
	s, err := kv.GetJSON[Snapshot](ctx, k.store, snapshotKey(objType, objID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)
