package logdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentExt = ".seg"

// FileStore keeps one file per segment under a root directory.
type FileStore struct {
	root string
}

// OpenFileStore opens (creating if needed) a FileStore rooted at dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("logdb: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logdb: create %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) segmentPath(recording, thread string, seq int) string {
	return filepath.Join(s.root, recording, thread, fmt.Sprintf("%08d%s", seq, segmentExt))
}

// PutSegment implements Store. The file is written under a temporary name
// and renamed into place.
func (s *FileStore) PutSegment(ctx context.Context, seg Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validKey(seg.Recording, seg.Thread); err != nil {
		return err
	}
	if seg.Seq < 0 {
		return fmt.Errorf("%w: negative sequence %d", ErrBadName, seg.Seq)
	}

	frame, err := encodeFrame(seg.Format, seg.Data)
	if err != nil {
		return err
	}

	path := s.segmentPath(seg.Recording, seg.Thread, seg.Seq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logdb: create thread dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, frame, 0o644); err != nil {
		return fmt.Errorf("logdb: write segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("logdb: commit segment: %w", err)
	}
	return nil
}

// Segment implements Store.
func (s *FileStore) Segment(ctx context.Context, recording, thread string, seq int) (Segment, error) {
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}
	if err := validKey(recording, thread); err != nil {
		return Segment{}, err
	}

	frame, err := os.ReadFile(s.segmentPath(recording, thread, seq))
	if errors.Is(err, fs.ErrNotExist) {
		return Segment{}, fmt.Errorf("%w: %s/%s/%d", ErrNotFound, recording, thread, seq)
	}
	if err != nil {
		return Segment{}, fmt.Errorf("logdb: read segment: %w", err)
	}

	f, data, err := decodeFrame(frame)
	if err != nil {
		return Segment{}, fmt.Errorf("%s/%s/%d: %w", recording, thread, seq, err)
	}
	return Segment{Recording: recording, Thread: thread, Seq: seq, Format: f, Data: data}, nil
}

// Segments implements Store.
func (s *FileStore) Segments(ctx context.Context, recording, thread string) ([]SegmentInfo, error) {
	if err := validKey(recording, thread); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, recording, thread)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logdb: list segments: %w", err)
	}

	var out []SegmentInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, segmentExt))
		if err != nil {
			continue
		}
		hdr, err := readHeader(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s/%s/%d: %w", recording, thread, seq, err)
		}
		out = append(out, SegmentInfo{Thread: thread, Seq: seq, Format: hdr.format, Size: hdr.size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func readHeader(path string) (frameHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return frameHeader{}, err
	}
	defer f.Close()

	buf := make([]byte, frameHeaderSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return frameHeader{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return parseHeader(buf[:n])
}

// Threads implements Store.
func (s *FileStore) Threads(ctx context.Context, recording string) ([]string, error) {
	if err := validName("recording", recording); err != nil {
		return nil, err
	}
	return listDirs(ctx, filepath.Join(s.root, recording))
}

// Recordings implements Store.
func (s *FileStore) Recordings(ctx context.Context) ([]string, error) {
	return listDirs(ctx, s.root)
}

func listDirs(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logdb: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	// os.ReadDir already sorts by name.
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
