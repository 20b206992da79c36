package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/wire"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	rec := Record{DeviceID: "dev-1", Label: "My KeepKey", LastSeen: time.Now()}

	if err := s.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("dev-1")
	if !ok {
		t.Fatal("expected record to be present")
	}
	if got.Label != "My KeepKey" {
		t.Fatalf("got label %q, want %q", got.Label, "My KeepKey")
	}

	if err := s.Delete("dev-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("dev-1"); ok {
		t.Fatal("expected record to be gone after Delete")
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	fs1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	rec := Record{DeviceID: "dev-2", Label: "Treasury", SetupStep: "ready"}
	if err := fs1.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fs2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reload NewFileStore: %v", err)
	}
	got, ok := fs2.Get("dev-2")
	if !ok {
		t.Fatal("expected record to survive reload")
	}
	if got.SetupStep != "ready" {
		t.Fatalf("got setup_step %q, want %q", got.SetupStep, "ready")
	}
	if len(fs2.List()) != 1 {
		t.Fatalf("got %d records, want 1", len(fs2.List()))
	}
}

func TestTrackRecordsLabelFromFeaturesUpdated(t *testing.T) {
	bus := eventbus.New(16)
	store := NewMemoryStore()
	stop := make(chan struct{})
	go Track(bus, store, stop)
	t.Cleanup(func() { close(stop) })

	bus.Publish(eventbus.Event{
		Kind:     eventbus.FeaturesUpdated,
		DeviceID: "dev-3",
		Payload:  &wire.Features{Label: "Cold Storage", Initialized: true},
	})

	require.Eventually(t, func() bool {
		rec, ok := store.Get("dev-3")
		return ok && rec.Label == "Cold Storage" && rec.SetupStep == "ready"
	}, time.Second, time.Millisecond)
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if len(fs.List()) != 0 {
		t.Fatal("expected empty table for a missing file")
	}
}
