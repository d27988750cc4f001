package journal_test

import (
	"context"
	"testing"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/inference"
	"visionedge/internal/journal"
	"visionedge/internal/testsupport"
)

func openStore(t *testing.T, mutate func(*config.Config)) *journal.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func packet(session string, seqs ...uint64) inference.Packet {
	pkt := inference.Packet{Timestamp: time.Now(), SessionID: session, Frame: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	for _, seq := range seqs {
		pkt.Detections = append(pkt.Detections, inference.SequencedDetection{Seq: seq, ID: int(seq), DisplayName: "person", Confidence: 80})
	}
	return pkt
}

func TestInsertAndListNewestFirst(t *testing.T) {
	store := openStore(t, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, packet("s1", 1, 2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Insert(ctx, packet("s1", 3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	entries, err := store.List(ctx, 10, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].FirstSeq != 3 || entries[1].FirstSeq != 1 || entries[1].LastSeq != 2 {
		t.Fatalf("unexpected ordering: %+v", entries)
	}
	if len(entries[1].Detections) != 2 || entries[1].Detections[1].Seq != 2 {
		t.Fatalf("detections not round-tripped: %+v", entries[1].Detections)
	}
	if entries[0].FrameSize != 4 || len(entries[0].Frame) != 0 {
		t.Fatalf("frame bytes stored without store_frame: %+v", entries[0])
	}
}

func TestInsertStoresFrameWhenEnabled(t *testing.T) {
	store := openStore(t, func(cfg *config.Config) { cfg.Journal.StoreFrame = true })
	ctx := context.Background()
	if _, err := store.Insert(ctx, packet("s1", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	entries, err := store.List(ctx, 1, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Frame) != 4 {
		t.Fatalf("expected stored frame, got %+v", entries)
	}
	withoutFrame, err := store.List(ctx, 1, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(withoutFrame[0].Frame) != 0 {
		t.Fatal("frame returned when not requested")
	}
}

func TestInsertPrunesBeyondMaxEntries(t *testing.T) {
	store := openStore(t, func(cfg *config.Config) { cfg.Journal.MaxEntries = 3 })
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		if _, err := store.Insert(ctx, packet("s1", seq)); err != nil {
			t.Fatalf("Insert %d: %v", seq, err)
		}
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	entries, _ := store.List(ctx, 10, false)
	if entries[len(entries)-1].FirstSeq != 3 {
		t.Fatalf("oldest kept entry = %d, want 3", entries[len(entries)-1].FirstSeq)
	}
}

func TestInsertRejectsEmptyPacket(t *testing.T) {
	store := openStore(t, nil)
	if _, err := store.Insert(context.Background(), inference.Packet{}); err == nil {
		t.Fatal("expected error for empty packet")
	}
}
