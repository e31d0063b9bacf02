package store

import (
	"context"
	"sync"
	"testing"

	"relsync/internal/release"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_Writes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tests := []struct {
		name       string
		content    string
		wantWrites int
	}{
		{name: "first blob", content: "a", wantWrites: 1},
		{name: "same blob again", content: "a", wantWrites: 1},
		{name: "second blob", content: "b", wantWrites: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := release.ComputeID([]byte(tt.content))
			if _, err := s.PutBlob(ctx, id, []byte(tt.content)); err != nil {
				t.Fatalf("PutBlob() error = %v", err)
			}
			if got := s.Writes(); got != tt.wantWrites {
				t.Errorf("Writes() = %d, want %d", got, tt.wantWrites)
			}
		})
	}
}

func TestMemoryStore_ConcurrentPut(t *testing.T) {
	s := NewMemoryStore()
	id := release.ComputeID([]byte("shared"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.PutBlob(context.Background(), id, []byte("shared")); err != nil {
				t.Errorf("PutBlob() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := s.Writes(); got != 1 {
		t.Errorf("Writes() = %d, want 1", got)
	}
	if got := len(s.IDs()); got != 1 {
		t.Errorf("len(IDs()) = %d, want 1", got)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := release.ComputeID([]byte("x"))

	data := []byte("stored")
	if _, err := s.PutBlob(ctx, id, data); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	data[0] = 'X'

	got, err := s.GetBlob(ctx, id)
	if err != nil {
		t.Fatalf("GetBlob() error = %v", err)
	}
	if string(got) != "stored" {
		t.Errorf("GetBlob() = %q, want %q", got, "stored")
	}
}
