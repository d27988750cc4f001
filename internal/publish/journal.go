package publish

import (
	"context"

	"visionedge/internal/inference"
	"visionedge/internal/journal"
)

// Journal records every packet in the SQLite journal.
type Journal struct {
	store *journal.Store
}

// NewJournal wraps store.
func NewJournal(store *journal.Store) *Journal { return &Journal{store: store} }

func (j *Journal) Publish(ctx context.Context, _ string, pkt inference.Packet) error {
	_, err := j.store.Insert(ctx, pkt)
	return err
}
