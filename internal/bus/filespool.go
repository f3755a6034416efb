package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hama-jp/koubou-go/internal/logger"
)

// FileSpool is the fallback Bus used when no live backend is configured:
// one JSON file per event under SpoolDir/<channel>/, consumers poll via
// directory listing and delete processed files.
type FileSpool struct {
	SpoolDir     string
	PollInterval time.Duration

	mu        sync.Mutex
	stoppers  []func()
	seqCounts map[string]int
}

// NewFileSpool builds a FileSpool rooted at spoolDir.
func NewFileSpool(spoolDir string) *FileSpool {
	return &FileSpool{SpoolDir: spoolDir, PollInterval: time.Second, seqCounts: make(map[string]int)}
}

func (f *FileSpool) Connect(ctx context.Context) error {
	return os.MkdirAll(f.SpoolDir, 0o755)
}

func (f *FileSpool) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stop := range f.stoppers {
		stop()
	}
	f.stoppers = nil
	return nil
}

func (f *FileSpool) channelDir(channel string) string {
	return filepath.Join(f.SpoolDir, channel)
}

func (f *FileSpool) Publish(ctx context.Context, channel string, message Message) error {
	message.Channel = channel
	dir := f.channelDir(channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bus.filespool: mkdir: %w", err)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("bus.filespool: marshal: %w", err)
	}

	f.mu.Lock()
	f.seqCounts[channel]++
	seq := f.seqCounts[channel]
	f.mu.Unlock()

	name := fmt.Sprintf("%d_%06d.json", message.Timestamp.UnixNano(), seq)
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (f *FileSpool) Subscribe(ctx context.Context, channel string, handler func(Message)) (func(), error) {
	dir := f.channelDir(channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bus.filespool: mkdir: %w", err)
	}

	interval := f.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				f.drain(dir, handler)
			}
		}
	}()

	f.mu.Lock()
	f.stoppers = append(f.stoppers, func() { close(done) })
	f.mu.Unlock()

	return func() { close(done) }, nil
}

func (f *FileSpool) drain(dir string, handler func(Message)) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WithComponent("bus.filespool").Warn().Err(err).Str("file", name).Msg("failed to decode spooled message")
			os.Remove(path)
			continue
		}
		handler(msg)
		os.Remove(path)
	}
}

func (f *FileSpool) QueueSize(ctx context.Context, channel string) (int, error) {
	entries, err := os.ReadDir(f.channelDir(channel))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
