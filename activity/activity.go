// Package activity derives created_at/updated_at for entities from the
// append-only entity_activity stream instead of mutable timestamp
// columns, adapted from the teacher component's audit-log layer.
package activity

import (
	"context"
	"time"

	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/storage"
)

// Recorder appends entity lifecycle events and derives their timestamps.
type Recorder struct {
	store storage.Store
}

// New builds a Recorder backed by store.
func New(store storage.Store) *Recorder {
	return &Recorder{store: store}
}

// RecordCreate appends a create event for the entity. actorUserID is nil
// for system-initiated actions (e.g. bootstrap).
func (r *Recorder) RecordCreate(ctx context.Context, table string, entityID int64, actorUserID *int64) error {
	return r.record(ctx, table, entityID, storage.ActivityCreate, actorUserID)
}

// RecordUpdate appends an update event for the entity.
func (r *Recorder) RecordUpdate(ctx context.Context, table string, entityID int64, actorUserID *int64) error {
	return r.record(ctx, table, entityID, storage.ActivityUpdate, actorUserID)
}

// RecordDelete appends the terminal delete event for the entity. The
// record survives the referent row's deletion.
func (r *Recorder) RecordDelete(ctx context.Context, table string, entityID int64, actorUserID *int64) error {
	return r.record(ctx, table, entityID, storage.ActivityDelete, actorUserID)
}

func (r *Recorder) record(ctx context.Context, table string, entityID int64, action storage.ActivityAction, actorUserID *int64) error {
	err := r.store.RecordActivity(ctx, &storage.EntityActivity{
		EntityTable: table,
		EntityID:    entityID,
		Action:      action,
		UserID:      actorUserID,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return errs.Internalf(err, "record activity for %s/%d", table, entityID)
	}
	return nil
}

// Timestamps returns created_at (the earliest create event) and
// updated_at (the latest event of any kind) for the entity. Both are nil
// if no activity has been recorded.
func (r *Recorder) Timestamps(ctx context.Context, table string, entityID int64) (createdAt, updatedAt *time.Time, err error) {
	created, updated, dbErr := r.store.EntityTimestamps(ctx, table, entityID)
	if dbErr != nil {
		return nil, nil, errs.Internalf(dbErr, "load timestamps for %s/%d", table, entityID)
	}
	return created, updated, nil
}
