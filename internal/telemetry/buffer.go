package telemetry

import "sync"

// Buffer is the ordered, append-only sample buffer. With a positive
// retention only the newest retention samples are kept; Total still counts
// every sample ever appended.
type Buffer struct {
	retention int

	mu      sync.RWMutex
	samples []SensorSample
	total   uint64
}

// NewBuffer returns a buffer. retention <= 0 keeps every sample.
func NewBuffer(retention int) *Buffer {
	return &Buffer{retention: retention}
}

// Append adds s after every previously appended sample.
func (b *Buffer) Append(s SensorSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, s)
	b.total++
	if b.retention > 0 && len(b.samples) > b.retention {
		// Copy so the dropped prefix can be collected.
		kept := make([]SensorSample, b.retention, b.retention*2)
		copy(kept, b.samples[len(b.samples)-b.retention:])
		b.samples = kept
	}
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Total returns the number of samples ever appended.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Snapshot returns a copy of the retained samples in arrival order.
func (b *Buffer) Snapshot() []SensorSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]SensorSample(nil), b.samples...)
}
