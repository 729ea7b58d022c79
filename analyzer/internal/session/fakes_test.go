package session

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/config"
	"github.com/Krimson/msna-analyzer/analyzer/internal/synth"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// memoryCache - CacheStore в памяти
type memoryCache struct {
	mu       sync.Mutex
	sessions map[string]Session
	records  map[string][]annotate.BeatRecord
	ttls     map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		sessions: make(map[string]Session),
		records:  make(map[string][]annotate.BeatRecord),
		ttls:     make(map[string]time.Duration),
	}
}

func (c *memoryCache) SetSession(ctx context.Context, s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID] = *s
	return nil
}

func (c *memoryCache) GetSession(ctx context.Context, id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &s, nil
}

func (c *memoryCache) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	delete(c.records, id)
	return nil
}

func (c *memoryCache) SetRecords(ctx context.Context, id string, records []annotate.BeatRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = append([]annotate.BeatRecord(nil), records...)
	return nil
}

func (c *memoryCache) GetRecords(ctx context.Context, id string) ([]annotate.BeatRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]annotate.BeatRecord(nil), c.records[id]...), nil
}

func (c *memoryCache) SetSessionTTL(ctx context.Context, id string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls[id] = ttl
	return nil
}

func (c *memoryCache) recordCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records[id])
}

// memoryRepository - Repository в памяти
type memoryRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
	records  map[string][]annotate.BeatRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		sessions: make(map[string]Session),
		records:  make(map[string][]annotate.BeatRecord),
	}
}

func (r *memoryRepository) SaveResults(ctx context.Context, s *Session, records []annotate.BeatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	r.records[s.ID] = append([]annotate.BeatRecord(nil), records...)
	return nil
}

func (r *memoryRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &s, nil
}

func (r *memoryRepository) GetResults(ctx context.Context, id string) ([]annotate.BeatRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]annotate.BeatRecord(nil), r.records[id]...), nil
}

func (r *memoryRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for id := range r.sessions {
		s := r.sessions[id]
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	delete(r.records, id)
	return nil
}

// recordingSink запоминает опубликованный ход
type recordingSink struct {
	mu     sync.Mutex
	events []annotate.Progress
}

func (s *recordingSink) Publish(sessionID string, p annotate.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, p)
}

func (s *recordingSink) last() (annotate.Progress, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return annotate.Progress{}, 0
	}
	return s.events[len(s.events)-1], len(s.events)
}

// gateSink задерживает проход на первой публикации до release
type gateSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateSink) Publish(sessionID string, p annotate.Progress) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.recordingSink.Publish(sessionID, p)
}

type fixture struct {
	manager *Manager
	cache   *memoryCache
	repo    *memoryRepository
}

func newFixture(t *testing.T, sink ProgressSink) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()

	cfg := config.Default()
	cfg.Analysis.SampleRate = 250
	cfg.Analysis.Baseline = 50

	f := &fixture{cache: newMemoryCache(), repo: newMemoryRepository()}
	f.manager = NewManager(cfg, f.cache, f.repo, sink, nil, log)
	t.Cleanup(f.manager.Close)
	return f
}

// syntheticFile - 20 секунд записи 250 Гц с пульсом 60
func syntheticFile(t *testing.T) []byte {
	t.Helper()
	p := synth.Default()
	p.Duration = 20
	p.HRVariability = 0
	rec, _, err := synth.Generate(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, waveform.Write(&buf, rec))
	return buf.Bytes()
}

func flatFile() []byte {
	var buf bytes.Buffer
	for i := 0; i < 200; i++ {
		buf.WriteString("0 80 1\n")
	}
	return buf.Bytes()
}
