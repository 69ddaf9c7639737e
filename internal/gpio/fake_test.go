package gpio

import (
	"errors"
	"testing"
	"time"
)

type edge struct {
	index int
	ts    time.Duration
}

func TestFakeSourceDeliversEdges(t *testing.T) {
	f := NewFakeSource(1, 1)

	var got []edge
	if err := f.Start(func(i int, ts time.Duration) { got = append(got, edge{i, ts}) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Started() {
		t.Fatal("expected Started after Start")
	}

	f.Edge(1, time.Second)
	last := f.Train(0, 2*time.Second, 270*time.Microsecond, 3)

	if len(got) != 5 {
		t.Fatalf("expected 5 edges, got %d", len(got))
	}
	if got[0] != (edge{1, time.Second}) {
		t.Errorf("edge 0: got %+v", got[0])
	}
	if want := 2*time.Second + 810*time.Microsecond; last != want {
		t.Errorf("last edge: got %v, want %v", last, want)
	}
	for i, e := range got[1:] {
		if e.index != 0 {
			t.Errorf("train edge %d: index %d, want 0", i, e.index)
		}
	}
}

func TestFakeSourceNoHandler(t *testing.T) {
	f := NewFakeSource()
	// Must not panic before Start.
	f.Edge(0, time.Second)
}

func TestFakeSourceStartError(t *testing.T) {
	f := NewFakeSource()
	f.StartError = errors.New("simulated error")

	if err := f.Start(func(int, time.Duration) {}); err == nil {
		t.Error("expected error to be returned")
	}
	if f.Started() {
		t.Error("should not be started after error")
	}
}

func TestFakeSourceLevels(t *testing.T) {
	f := NewFakeSource(1, 0, 1)
	levels, err := f.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 3 || levels[1] != 0 {
		t.Errorf("levels: got %v", levels)
	}

	// Returned slice is a copy.
	levels[0] = 7
	again, _ := f.Levels()
	if again[0] != 1 {
		t.Error("Levels returned shared slice")
	}
}

func TestFakeSourceLevelsErrors(t *testing.T) {
	if _, err := NewFakeSource().Levels(); err == nil {
		t.Error("expected error with no levels")
	}

	f := NewFakeSource(1)
	f.LevelsError = errors.New("simulated error")
	if _, err := f.Levels(); err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeSourceClose(t *testing.T) {
	f := NewFakeSource(1)
	n := 0
	f.Start(func(int, time.Duration) { n++ })

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}

	f.Edge(0, time.Second)
	if n != 0 {
		t.Error("edge delivered after Close")
	}
}
