package telemetry

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func sampleN(n int) SensorSample {
	return NewSensorSample(time.Now(), strconv.Itoa(n), []string{"1", "2", "3", "4"})
}

func TestBufferAppendOrder(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 100; i++ {
		b.Append(sampleN(i))
	}
	snap := b.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("Len = %d, want 100", len(snap))
	}
	for i, s := range snap {
		if s.Time() != strconv.Itoa(i) {
			t.Fatalf("snap[%d].Time() = %q, want %q", i, s.Time(), strconv.Itoa(i))
		}
	}
}

func TestBufferSnapshotIsCopy(t *testing.T) {
	b := NewBuffer(0)
	b.Append(sampleN(0))
	snap := b.Snapshot()
	b.Append(sampleN(1))
	if len(snap) != 1 {
		t.Errorf("snapshot changed length to %d after Append", len(snap))
	}
	snap[0] = sampleN(99)
	if b.Snapshot()[0].Time() != "0" {
		t.Error("writing to a snapshot modified the buffer")
	}
}

func TestBufferRetention(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 10; i++ {
		b.Append(sampleN(i))
	}
	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Len = %d, want 3", len(snap))
	}
	for i, want := range []string{"7", "8", "9"} {
		if snap[i].Time() != want {
			t.Errorf("snap[%d].Time() = %q, want %q", i, snap[i].Time(), want)
		}
	}
	if b.Total() != 10 {
		t.Errorf("Total() = %d, want 10", b.Total())
	}
}

func TestBufferConcurrentReaders(t *testing.T) {
	b := NewBuffer(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Append(sampleN(i))
		}
	}()
	prev := 0
	for b.Len() < 500 {
		snap := b.Snapshot()
		if len(snap) < prev {
			t.Fatalf("buffer shrank from %d to %d", prev, len(snap))
		}
		for i, s := range snap {
			if s.Time() != strconv.Itoa(i) {
				t.Fatalf("snap[%d].Time() = %q", i, s.Time())
			}
		}
		prev = len(snap)
	}
	wg.Wait()
}
