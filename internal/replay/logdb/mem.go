package logdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memKey struct {
	recording, thread string
	seq               int
}

// MemStore keeps segments in memory.
type MemStore struct {
	mu   sync.RWMutex
	segs map[memKey]Segment
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{segs: make(map[memKey]Segment)}
}

// PutSegment implements Store.
func (s *MemStore) PutSegment(_ context.Context, seg Segment) error {
	if err := validKey(seg.Recording, seg.Thread); err != nil {
		return err
	}
	seg.Data = append([]byte(nil), seg.Data...)
	s.mu.Lock()
	s.segs[memKey{seg.Recording, seg.Thread, seg.Seq}] = seg
	s.mu.Unlock()
	return nil
}

// Segment implements Store.
func (s *MemStore) Segment(_ context.Context, recording, thread string, seq int) (Segment, error) {
	s.mu.RLock()
	seg, ok := s.segs[memKey{recording, thread, seq}]
	s.mu.RUnlock()
	if !ok {
		return Segment{}, fmt.Errorf("%w: %s/%s/%d", ErrNotFound, recording, thread, seq)
	}
	seg.Data = append([]byte(nil), seg.Data...)
	return seg, nil
}

// Segments implements Store.
func (s *MemStore) Segments(_ context.Context, recording, thread string) ([]SegmentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SegmentInfo
	for k, seg := range s.segs {
		if k.recording == recording && k.thread == thread {
			out = append(out, SegmentInfo{Thread: thread, Seq: k.seq, Format: seg.Format, Size: len(seg.Data)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Threads implements Store.
func (s *MemStore) Threads(_ context.Context, recording string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for k := range s.segs {
		if k.recording == recording {
			seen[k.thread] = true
		}
	}
	return sortedKeys(seen), nil
}

// Recordings implements Store.
func (s *MemStore) Recordings(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for k := range s.segs {
		seen[k.recording] = true
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }
