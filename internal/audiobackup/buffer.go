package audiobackup

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/mvirga/parlo/internal/transcript"
)

const (
	DefaultFlushBytes    = 64 << 10
	DefaultFlushInterval = 5 * time.Second
)

type entry struct {
	fragments [][]byte
	bytes     int
	openedAt  time.Time
	firstTSMS int64
}

// Buffer accumulates raw inbound audio per session and flushes it to the
// transcript store as one concatenated segment under a size/time policy.
type Buffer struct {
	mu         sync.Mutex
	store      transcript.Store
	flushBytes int
	flushEvery time.Duration
	entries    map[string]*entry
}

func New(store transcript.Store, flushBytes int, flushEvery time.Duration) *Buffer {
	if flushBytes <= 0 {
		flushBytes = DefaultFlushBytes
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}
	return &Buffer{
		store:      store,
		flushBytes: flushBytes,
		flushEvery: flushEvery,
		entries:    make(map[string]*entry),
	}
}

// Append adds one raw fragment and flushes if either the byte or the age
// threshold has been crossed.
func (b *Buffer) Append(ctx context.Context, sessionID string, raw []byte, tsMS int64) error {
	b.mu.Lock()
	e, ok := b.entries[sessionID]
	if !ok {
		e = &entry{openedAt: time.Now(), firstTSMS: tsMS}
		b.entries[sessionID] = e
	}
	if len(e.fragments) == 0 {
		e.firstTSMS = tsMS
		e.openedAt = time.Now()
	}
	e.fragments = append(e.fragments, raw)
	e.bytes += len(raw)

	var pending *transcript.AudioSegment
	if e.bytes >= b.flushBytes || time.Since(e.openedAt) >= b.flushEvery {
		pending = b.takeLocked(e)
	}
	b.mu.Unlock()

	return b.write(ctx, sessionID, pending)
}

// FlushNow writes whatever is accumulated, ignoring both thresholds. Used at
// speech-end detection, explicit stop and abrupt disconnect; flushing an
// empty buffer is a no-op.
func (b *Buffer) FlushNow(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	var pending *transcript.AudioSegment
	if e, ok := b.entries[sessionID]; ok {
		pending = b.takeLocked(e)
	}
	b.mu.Unlock()
	return b.write(ctx, sessionID, pending)
}

// FlushExpired flushes sessions whose buffer has been open longer than the
// time threshold. Driven by the per-session orchestrator tick.
func (b *Buffer) FlushExpired(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	var pending *transcript.AudioSegment
	if e, ok := b.entries[sessionID]; ok && len(e.fragments) > 0 && time.Since(e.openedAt) >= b.flushEvery {
		pending = b.takeLocked(e)
	}
	b.mu.Unlock()
	return b.write(ctx, sessionID, pending)
}

// Release drops the session's buffer entry. Callers must FlushNow first so
// no audio is lost at teardown.
func (b *Buffer) Release(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, sessionID)
}

// PendingBytes reports the accumulated unflushed size for a session.
func (b *Buffer) PendingBytes(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[sessionID]; ok {
		return e.bytes
	}
	return 0
}

func (b *Buffer) takeLocked(e *entry) *transcript.AudioSegment {
	if len(e.fragments) == 0 {
		return nil
	}
	joined := make([]byte, 0, e.bytes)
	for _, f := range e.fragments {
		joined = append(joined, f...)
	}
	seg := &transcript.AudioSegment{
		AudioBase64: base64.StdEncoding.EncodeToString(joined),
		TimestampMS: e.firstTSMS,
	}
	e.fragments = nil
	e.bytes = 0
	e.openedAt = time.Now()
	return seg
}

func (b *Buffer) write(ctx context.Context, sessionID string, seg *transcript.AudioSegment) error {
	if seg == nil {
		return nil
	}
	return b.store.AppendAudioSegment(ctx, sessionID, *seg)
}
