package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const subscriberBuffer = 128

// SignalBus is a process-local domain.SignalBus. Subscribers that fall
// behind drop messages rather than block publishers, matching redis
// Pub/Sub delivery. Streams are bounded to maxLen entries.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	nextSub int
	streams map[string]*stream
	maxLen  int
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

type stream struct {
	seq     uint64
	entries []domain.StreamMessage
}

// NewSignalBus creates a SignalBus whose streams keep at most maxLen
// entries. A non-positive maxLen keeps 10000.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[int]subscriber),
		streams: make(map[string]*stream),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches
// channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !matchChannel(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for channel, which may be a glob
// pattern. The returned channel is closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func matchChannel(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &stream{}
		b.streams[name] = s
	}
	s.seq++
	s.entries = append(s.entries, domain.StreamMessage{
		ID:      strconv.FormatUint(s.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if over := len(s.entries) - b.maxLen; over > 0 {
		s.entries = append([]domain.StreamMessage(nil), s.entries[over:]...)
	}
	return nil
}

// StreamRead returns up to count entries with ids after lastID. "0", "0-0"
// and "" read from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, name string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[name]
	if !ok {
		return nil, nil
	}
	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range s.entries {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ domain.SignalBus = (*SignalBus)(nil)
