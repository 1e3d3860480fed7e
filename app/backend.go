package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Truonghai2/BaultPHP-sub001/adapters/nats"
	"github.com/Truonghai2/BaultPHP-sub001/adapters/sqlstore"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/internal/config"
	"github.com/Truonghai2/BaultPHP-sub001/projections/pagelist"
)

// backend is the storage chosen by the store driver.
type backend struct {
	store       es.EventStore
	snapshotter es.Snapshotter
	cpStore     es.CpStore
	list        pagelist.Store
	// volatileList is set when the read model does not survive a restart
	// while the checkpoints do; the projection is rebuilt on start.
	volatileList bool
	closers      []func() error
}

func (b *backend) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return &backend{
			store:       es.NewInMemoryStore(),
			snapshotter: es.NewInMemorySnapshotter(),
			cpStore:     es.NewInMemCpStore(),
			list:        pagelist.NewMemStore(),
		}, nil
	case "sqlite", "postgres":
		return openSQL(ctx, cfg, log)
	case "nats":
		return openNATS(cfg.NATS, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*backend, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(ctx, dialect, cfg.DSN)
	if err != nil {
		return nil, es.StorageError("open "+string(dialect), err)
	}
	b := &backend{closers: []func() error{db.Close}}

	store, err := sqlstore.NewEventStore(ctx, sqlstore.Config{DB: db, Dialect: dialect, Log: log})
	if err != nil {
		return nil, errors.Join(err, b.close())
	}
	list, err := pagelist.NewSQLStore(ctx, db, dialect)
	if err != nil {
		return nil, errors.Join(err, b.close())
	}
	b.store = store
	b.snapshotter = store.Snapshotter()
	b.cpStore = store.CpStore()
	b.list = list
	return b, nil
}

func openNATS(cfg config.NATSConfig, log *slog.Logger) (*backend, error) {
	connect := nats.ConnectDefault(nats.LogConnectionEvents(log))
	if cfg.URL != "" {
		connect = nats.ConnectURL(cfg.URL, nats.LogConnectionEvents(log))
	}
	connect = nats.ReuseConnection(connect)

	b := &backend{list: pagelist.NewMemStore(), volatileList: true}

	store, err := nats.NewEventStore(nats.EventStoreConfig{
		Connect:       connect,
		Log:           log,
		SubjectPrefix: cfg.SubjectPrefix,
		StreamName:    cfg.Stream,
	})
	if err != nil {
		return nil, err
	}
	b.store = store
	b.closers = append(b.closers, store.Close)

	snapKV, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: cfg.SnapshotBucket})
	if err != nil {
		return nil, errors.Join(es.StorageError("snapshot bucket", err), b.close())
	}
	b.closers = append(b.closers, snapKV.Close)
	b.snapshotter = es.NewKeyValueSnapshotter(snapKV)

	cpKV, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: cfg.CheckpointBucket})
	if err != nil {
		return nil, errors.Join(es.StorageError("checkpoint bucket", err), b.close())
	}
	b.closers = append(b.closers, cpKV.Close)
	b.cpStore = es.NewKeyValueCpStore(cpKV)
	return b, nil
}
