package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repforge/internal/models"
)

// Mailbox is a single-slot FrameSource fed by a producer that must never
// block. Publishing over an unconsumed frame replaces it and counts a drop,
// so the consumer sees gaps but never queued or reordered frames.
type Mailbox struct {
	mu     sync.Mutex
	frame  models.PoseFrame
	full   bool
	closed bool
	lastAt time.Time
	wake   chan struct{}

	published atomic.Uint64
	drops     atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Publish stores f for the consumer without blocking. Frames not newer than
// the previously published one are rejected as drops.
func (m *Mailbox) Publish(f models.PoseFrame) {
	m.mu.Lock()
	if m.closed || (!m.lastAt.IsZero() && !f.Timestamp.After(m.lastAt)) {
		m.mu.Unlock()
		m.drops.Add(1)
		return
	}
	if m.full {
		m.drops.Add(1)
	}
	m.frame, m.full, m.lastAt = f, true, f.Timestamp
	m.mu.Unlock()
	m.published.Add(1)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close ends the stream; Next returns io.EOF once the slot is drained.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available, the mailbox is closed, or ctx is
// done.
func (m *Mailbox) Next(ctx context.Context) (models.PoseFrame, error) {
	for {
		m.mu.Lock()
		if m.full {
			f := m.frame
			m.frame, m.full = models.PoseFrame{}, false
			m.mu.Unlock()
			return f, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return models.PoseFrame{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return models.PoseFrame{}, ctx.Err()
		case <-m.wake:
		}
	}
}

// Stats returns published and dropped frame counts.
func (m *Mailbox) Stats() (published, dropped uint64) {
	return m.published.Load(), m.drops.Load()
}

// maxFrameLine bounds one JSONL frame record.
const maxFrameLine = 1 << 20

// JSONSource reads newline-delimited frame records. Lines that do not
// decode are skipped and counted; only read errors end the stream.
type JSONSource struct {
	sc      *bufio.Scanner
	minConf float64
	line    int
	skipped int
	lastBad error
}

// NewJSONSource returns a source over r. Joints below minConfidence are
// marked absent.
func NewJSONSource(r io.Reader, minConfidence float64) *JSONSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	return &JSONSource{sc: sc, minConf: minConfidence}
}

// Next returns the next decodable record.
func (s *JSONSource) Next(ctx context.Context) (models.PoseFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.PoseFrame{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return models.PoseFrame{}, fmt.Errorf("line %d: %w", s.line+1, err)
			}
			return models.PoseFrame{}, io.EOF
		}
		s.line++
		b := bytes.TrimSpace(s.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec models.FrameRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			s.skipped++
			s.lastBad = fmt.Errorf("line %d: %w", s.line, err)
			continue
		}
		return rec.Frame(s.minConf), nil
	}
}

// Skipped returns how many lines failed to decode, and the last such error.
func (s *JSONSource) Skipped() (int, error) {
	return s.skipped, s.lastBad
}
