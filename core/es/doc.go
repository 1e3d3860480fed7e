// Package es provides the event-sourcing core: aggregates, a versioned event
// registry, event stores, snapshots, repositories and projection runners.
//
// # Aggregates
//
// Aggregates embed [BaseAggregate] and apply their events through an explicit
// type switch. Commands check invariants first, with [Guard], and only then
// record events with [RaiseAndApply], so a rejected command records nothing:
//
//	func (u *User) Rename(name string, at time.Time) error {
//	    if err := es.Guard(u, "rename", assert.NotEmpty(name, "name is required")); err != nil {
//	        return err
//	    }
//	    return es.RaiseAndApply(u, &UserRenamed{Name: name, At: at})
//	}
//
// # Event Registration
//
// Events are registered with an [EventRegistry] under their EventType() name.
// Payloads carry the schema version from EventVersion(); older payloads are
// migrated by upcasters registered with [EventRegistry.Upcast] when decoded.
//
// # Stores
//
// [EventStore] appends batches atomically under optimistic concurrency. A
// stale expected version yields a [*ConflictError]. [NewInMemoryStore] is
// the reference implementation; adapters/sqlstore and adapters/nats persist.
//
// # Repository
//
//	repo := es.NewTypedRepository[*User](store, registry, es.WithSnapshotter(snaps))
//	user, err := repo.GetByID(ctx, "user-123")
//	_ = user.Rename("New Name", time.Now())
//	err = repo.Save(ctx, user)
//
// [TypedRepository.WithTransaction] serializes in-process commands per id and
// retries on conflicts when asked to with [WithRetry].
//
// # Snapshots
//
// Snapshots only accelerate loading. A snapshot that is newer than its stream,
// undecodable or of another schema version is ignored.
//
// # Projections
//
// A [ProjectionRunner] feeds a [Projection] from [EventStore.ReadAll] and
// stores a [Checkpoint] at commit boundaries. [Env] wires all of the above
// from options.
package es
