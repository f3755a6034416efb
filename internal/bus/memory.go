package bus

import (
	"context"
	"sync"

	"github.com/hama-jp/koubou-go/internal/logger"
)

const defaultReplaySize = 1000
const subscriberBuffer = 64

// Memory is a process-local Bus: a map of channel to subscriber list, each
// subscriber backed by a bounded buffered channel and its own goroutine,
// plus a capped ring buffer per channel for replay.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Message
	replay      map[string][]Message
	replaySize  int
	nextID      int
}

// NewMemory builds an in-memory Bus with the given replay size per
// channel (0 uses the default of 1000).
func NewMemory(replaySize int) *Memory {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	return &Memory{
		subscribers: make(map[string]map[int]chan Message),
		replay:      make(map[string][]Message),
		replaySize:  replaySize,
	}
}

func (m *Memory) Connect(ctx context.Context) error { return nil }
func (m *Memory) Disconnect() error                 { return nil }

func (m *Memory) Publish(ctx context.Context, channel string, message Message) error {
	message.Channel = channel
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := append(m.replay[channel], message)
	if len(buf) > m.replaySize {
		buf = buf[len(buf)-m.replaySize:]
	}
	m.replay[channel] = buf

	for id, ch := range m.subscribers[channel] {
		select {
		case ch <- message:
		default:
			logger.WithComponent("bus.memory").Warn().
				Str("channel", channel).
				Int("subscriber", id).
				Msg("subscriber buffer full, dropping message")
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler func(Message)) (func(), error) {
	ch := make(chan Message, subscriberBuffer)

	m.mu.Lock()
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	m.subscribers[channel][id] = ch
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg)
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.subscribers[channel], id)
		m.mu.Unlock()
		close(done)
	}
	return unsubscribe, nil
}

func (m *Memory) QueueSize(ctx context.Context, channel string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.replay[channel]), nil
}
