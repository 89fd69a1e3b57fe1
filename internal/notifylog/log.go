// Package notifylog keeps a per-topic, append-only history of published
// notifications. Each topic has its own offset sequence starting from 0.
// When a topic exceeds its retention the oldest entries are discarded, but
// offsets keep increasing.
package notifylog

import (
	"context"
	"errors"
	"sync"

	"github.com/Snehask3825/kortex/pkg/notification"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("notification log is closed")
)

// DefaultRetention is the number of entries kept per topic when none is configured.
const DefaultRetention = 1000

// Entry is a notification and the offset it was stored at.
type Entry struct {
	Offset       int64                     `json:"offset"`
	Notification notification.Notification `json:"notification"`
}

// Terminal reports whether the entry's notification ends an operation.
func (e Entry) Terminal() bool {
	return e.Notification.Terminal()
}

// Statistics summarises the log contents.
type Statistics struct {
	TotalEntries int64                        `json:"totalEntries"`
	TopicCounts  map[notification.Topic]int64 `json:"topicCounts"`
}

// topicLog holds at least the last retention entries of a topic. The
// backing slice may hold up to twice that before it is compacted.
type topicLog struct {
	entries    []Entry
	nextOffset int64
}

// window returns the retained entries, oldest first.
func (tl *topicLog) window(retention int) []Entry {
	if over := len(tl.entries) - retention; over > 0 {
		return tl.entries[over:]
	}
	return tl.entries
}

// from returns the retained entries with offset >= startOffset.
func (tl *topicLog) from(retention int, startOffset int64) []Entry {
	window := tl.window(retention)
	first := tl.nextOffset - int64(len(window))
	skip := max(startOffset-first, 0)
	if skip >= int64(len(window)) {
		return nil
	}
	return window[skip:]
}

// Log is an in-memory notification history. It is safe for concurrent use.
type Log struct {
	retention int

	mu     sync.RWMutex
	topics map[notification.Topic]*topicLog
	closed bool
}

// New creates an empty log keeping at most retention entries per topic.
// A non-positive retention selects DefaultRetention.
func New(retention int) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{
		retention: retention,
		topics:    make(map[notification.Topic]*topicLog),
	}
}

// Append stores n under its topic and returns the stored entry.
func (l *Log) Append(ctx context.Context, n notification.Notification) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	topic := n.Topic()
	if !topic.Valid() {
		return Entry{}, notification.ErrUnknownTopic
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}

	tl := l.topics[topic]
	if tl == nil {
		tl = &topicLog{}
		l.topics[topic] = tl
	}

	entry := Entry{Offset: tl.nextOffset, Notification: n}
	tl.entries = append(tl.entries, entry)
	tl.nextOffset++

	if len(tl.entries) >= 2*l.retention {
		compacted := make([]Entry, 0, 2*l.retention)
		tl.entries = append(compacted, tl.window(l.retention)...)
	}

	return entry, nil
}

// Read returns up to maxCount entries of topic with offset >= startOffset.
func (l *Log) Read(ctx context.Context, topic notification.Topic, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]Entry, 0)
	tl := l.topics[topic]
	if tl == nil || maxCount == 0 {
		return results, nil
	}

	entries := tl.from(l.retention, startOffset)
	return append(results, entries[:min(maxCount, len(entries))]...), nil
}

// EndOffset returns the offset the next entry of topic will be stored at.
func (l *Log) EndOffset(ctx context.Context, topic notification.Topic) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if tl := l.topics[topic]; tl != nil {
		return tl.nextOffset, nil
	}
	return 0, nil
}

// Replay streams the retained entries of topic from startOffset. The
// entries are captured before Replay returns, so anything appended later is
// not replayed. Both channels are closed when the replay ends.
func (l *Log) Replay(ctx context.Context, topic notification.Topic, startOffset int64) (<-chan Entry, <-chan error) {
	entries := make(chan Entry)
	errs := make(chan error, 1)

	if startOffset < 0 {
		errs <- ErrNegativeOffset
		close(entries)
		close(errs)
		return entries, errs
	}

	l.mu.RLock()
	var snapshot []Entry
	if tl := l.topics[topic]; tl != nil {
		snapshot = append(snapshot, tl.from(l.retention, startOffset)...)
	}
	l.mu.RUnlock()

	go func() {
		defer close(entries)
		defer close(errs)

		for _, e := range snapshot {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case entries <- e:
			}
		}
	}()

	return entries, errs
}

// Statistics returns the number of retained entries per topic.
func (l *Log) Statistics(ctx context.Context) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{TopicCounts: make(map[notification.Topic]int64)}
	for topic, tl := range l.topics {
		count := int64(len(tl.window(l.retention)))
		stats.TopicCounts[topic] = count
		stats.TotalEntries += count
	}
	return stats, nil
}

// Close discards all entries. Safe to call multiple times.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.topics = make(map[notification.Topic]*topicLog)
	l.closed = true
	return nil
}
