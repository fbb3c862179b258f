package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// Event is one decoded log entry.
//
// A compact run of boring events has Count > 1 and covers the clocks
// Clock through Clock+Count-1, every one returning 0.
type Event struct {
	Seq       int    `json:"seq"`
	Clock     uint64 `json:"clock"`
	Count     uint32 `json:"count,omitempty"`
	Retval    int32  `json:"retval"`
	Tag       string `json:"tag,omitempty"`
	Check     uint64 `json:"check,omitempty"`
	FakeCalls uint32 `json:"fake_calls,omitempty"`
}

// String formats e as one dump line.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] ", e.Seq)
	if e.Count > 1 {
		fmt.Fprintf(&b, "clock=%d..%d run=%d", e.Clock, e.Clock+uint64(e.Count)-1, e.Count)
	} else {
		fmt.Fprintf(&b, "clock=%d retval=%d", e.Clock, e.Retval)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " tag=%s check=%#x", e.Tag, e.Check)
	}
	if e.FakeCalls > 0 {
		fmt.Fprintf(&b, " fake_calls=%d", e.FakeCalls)
	}
	return b.String()
}

// decoder walks a thread's segments in order. It carries the expected clock
// across segments, since compact records store clock gaps only.
type decoder struct {
	expected uint64
	pending  uint32 // fake calls announced by a verbose record
}

func (d *decoder) decode(seg logdb.Segment) ([]Event, error) {
	r := record.NewReader(seg.Data)
	var events []Event
	for r.Remaining() > 0 {
		var (
			evs []Event
			err error
		)
		if seg.Format == record.Verbose {
			evs, err = d.verbose(r, seg.Seq)
		} else {
			evs, err = d.compact(r, seg.Seq)
		}
		if errors.Is(err, record.ErrNoData) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", r.Len(), err)
		}
		events = append(events, evs...)
	}
	return events, nil
}

func (d *decoder) compact(r *record.Reader, seq int) ([]Event, error) {
	c, err := record.DecodeCompact(r)
	if err != nil {
		return nil, err
	}
	var events []Event
	if c.Run > 0 {
		events = append(events, Event{Seq: seq, Clock: d.expected, Count: c.Run})
		d.expected += uint64(c.Run)
	}
	clk := d.expected + c.Skip
	events = append(events, Event{Seq: seq, Clock: clk, Retval: c.Retval, FakeCalls: c.FakeCalls})
	d.expected = clk + 1
	return events, nil
}

func (d *decoder) verbose(r *record.Reader, seq int) ([]Event, error) {
	v, err := record.DecodeVerbose(r)
	if err != nil {
		return nil, err
	}
	if v.IsFakeCalls() {
		d.pending += v.FakeCalls()
		return nil, nil
	}
	e := Event{
		Seq:       seq,
		Clock:     v.Clock,
		Retval:    v.Retval,
		Tag:       v.Tag.String(),
		Check:     v.Check,
		FakeCalls: d.pending,
	}
	d.pending = 0
	return []Event{e}, nil
}
