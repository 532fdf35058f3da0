// internal/app/app_test.go
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/nodestream/internal/config"
	"github.com/YaganovValera/nodestream/internal/metrics"
	"github.com/YaganovValera/nodestream/internal/registry"
	"github.com/YaganovValera/nodestream/pkg/backoff"
	"github.com/YaganovValera/nodestream/pkg/logger"
	"github.com/YaganovValera/nodestream/pkg/redis"
	"github.com/YaganovValera/nodestream/pkg/stream"
	"github.com/YaganovValera/nodestream/pkg/topic"
)

func init() { metrics.Register(nil) }

// scriptedBus отдаёт заранее заданные пачки по одной за Poll.
type scriptedBus struct {
	mu      sync.Mutex
	batches [][]stream.MessageSet
	commits int
	closed  bool
}

func (b *scriptedBus) Poll(context.Context) ([]stream.MessageSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil, nil
	}
	next := b.batches[0]
	b.batches = b.batches[1:]
	return next, nil
}

func (b *scriptedBus) ConsumeMessageSet(stream.MessageSet) error { return nil }

func (b *scriptedBus) CommitConsumed(context.Context) error {
	b.mu.Lock()
	b.commits++
	b.mu.Unlock()
	return nil
}

func (b *scriptedBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type dialRecorder struct {
	mu      sync.Mutex
	configs []stream.BusConfig
	fail    int // сколько первых вызовов вернуть с ошибкой
	bus     func() stream.Bus
}

func (d *dialRecorder) dial(_ context.Context, cfg stream.BusConfig) (stream.Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("broker unavailable")
	}
	return d.bus(), nil
}

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMem() *memStorage { return &memStorage{data: map[string][]byte{}} }

func (m *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.ErrNotFound
	}
	return v, nil
}

func (m *memStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) Close() error { return nil }

func set(offsets []int64, values ...string) stream.MessageSet {
	s := stream.MessageSet{Topic: "events-epoch-3"}
	for i, v := range values {
		s.Messages = append(s.Messages, stream.RawMessage{Offset: offsets[i], Value: []byte(v)})
	}
	return s
}

var fastBackoff = backoff.Config{InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxElapsedTime: time.Second}

func jsonConfig(dial stream.Dialer) stream.Config[json.RawMessage, struct{}] {
	return stream.Config[json.RawMessage, struct{}]{
		Addr:  "localhost:9092",
		Epoch: 3,
		Topic: topic.JSON[json.RawMessage, struct{}]{Kind: "events"},
		Dial:  dial,
	}
}

func TestResolveSession(t *testing.T) {
	ctx := context.Background()
	const name stream.TopicName = "events-epoch-3"
	mem := newMem()
	reg := registry.New(mem, logger.NewNop())

	explicit := stream.NewSessionID()
	got, src, err := resolveSession(ctx, explicit, reg, name)
	if err != nil || got != explicit || src != sourceConfig {
		t.Fatalf("expected configured session, got %s/%s/%v", got, src, err)
	}

	got, src, err = resolveSession(ctx, stream.SessionID{}, reg, name)
	if err != nil || got.IsZero() || src != sourceFresh {
		t.Fatalf("expected fresh session, got %s/%s/%v", got, src, err)
	}

	stored := stream.NewSessionID()
	if err := reg.Save(ctx, name, stored); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, src, err = resolveSession(ctx, stream.SessionID{}, reg, name)
	if err != nil || got != stored || src != sourceRegistry {
		t.Fatalf("expected stored session, got %s/%s/%v", got, src, err)
	}

	got, src, err = resolveSession(ctx, stream.SessionID{}, nil, name)
	if err != nil || got.IsZero() || src != sourceFresh {
		t.Fatalf("expected fresh session without registry, got %s/%s/%v", got, src, err)
	}

	mem.err = errors.New("redis down")
	if _, _, err := resolveSession(ctx, stream.SessionID{}, reg, name); !errors.Is(err, mem.err) {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestLoop_WritesRecordsAndSkipsBadSets(t *testing.T) {
	bus := &scriptedBus{batches: [][]stream.MessageSet{
		{set([]int64{10, 11}, `{"a":1}`, `"b"`)},
		{set([]int64{12}, `not json`)},
		{set([]int64{13}, `3`)},
	}}
	d := &dialRecorder{bus: func() stream.Bus { return bus }}
	c, err := openConsumer(context.Background(), jsonConfig(d.dial), fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var out bytes.Buffer
	lp := newLoop(c, &out, time.Millisecond, logger.NewNop())
	for i := 0; i < 3; i++ {
		if err := lp.pollOnce(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	want := `{"offset":10,"payload":{"a":1}}` + "\n" +
		`{"offset":11,"payload":"b"}` + "\n" +
		`{"offset":13,"payload":3}` + "\n"
	if out.String() != want {
		t.Errorf("unexpected sink output:\n%s\nwant:\n%s", out.String(), want)
	}
	if bus.commits != 2 {
		t.Errorf("expected 2 commits (bad set skipped without commit), got %d", bus.commits)
	}

	info, ok := lp.snapshot()
	if !ok || info.Topic != "events-epoch-3" || info.Session != c.SessionID().String() {
		t.Errorf("unexpected snapshot %+v", info)
	}
	if err := lp.ready(); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestLoop_LogsCarrySession(t *testing.T) {
	bus := &scriptedBus{batches: [][]stream.MessageSet{{set([]int64{4}, `not json`)}}}
	d := &dialRecorder{bus: func() stream.Bus { return bus }}
	c, err := openConsumer(context.Background(), jsonConfig(d.dial), fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	core, logs := observer.New(zapcore.WarnLevel)
	lp := newLoop(c, &bytes.Buffer{}, time.Millisecond, logger.FromZap(zap.New(core)))
	if err := lp.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	entries := logs.FilterMessage("message set skipped").All()
	if len(entries) != 1 {
		t.Fatalf("expected one skip entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["session_id"]; got != c.SessionID().String() {
		t.Errorf("expected session_id %s, got %v", c.SessionID(), got)
	}
}

func TestLoop_StopsOnRetired(t *testing.T) {
	d := &dialRecorder{bus: func() stream.Bus { return &scriptedBus{} }}
	c, err := openConsumer(context.Background(), jsonConfig(d.dial), fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = c.Close()

	lp := newLoop(c, &bytes.Buffer{}, time.Millisecond, logger.NewNop())
	if err := lp.Run(context.Background()); !errors.Is(err, stream.ErrRetired) {
		t.Fatalf("expected ErrRetired, got %v", err)
	}
	if lp.ready() == nil {
		t.Error("stopped loop must not report ready")
	}
}

func TestOpenConsumer_RetriesDial(t *testing.T) {
	d := &dialRecorder{fail: 2, bus: func() stream.Bus { return &scriptedBus{} }}
	c, err := openConsumer(context.Background(), jsonConfig(d.dial), fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(d.configs) != 3 {
		t.Errorf("expected 3 dial attempts, got %d", len(d.configs))
	}
	if c.SessionID().IsZero() {
		t.Error("expected a generated session")
	}
}

func TestOpenConsumer_InvalidConfigNotRetried(t *testing.T) {
	d := &dialRecorder{bus: func() stream.Bus { return &scriptedBus{} }}
	cfg := jsonConfig(d.dial)
	cfg.Addr = ""
	slow := backoff.Config{InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxElapsedTime: time.Minute}

	start := time.Now()
	_, err := openConsumer(context.Background(), cfg, slow, logger.NewNop())
	if !errors.Is(err, stream.ErrInvalidConfig) || !errors.Is(err, stream.ErrUnableToCreateConsumer) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	var be *backoff.Error
	if !errors.As(err, &be) || be.Attempts != 1 || be.Outcome != backoff.OutcomePermanent {
		t.Errorf("expected a single permanent attempt, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("invalid config must not wait for the retry budget")
	}
	if len(d.configs) != 0 {
		t.Errorf("dialer must not be called, got %d calls", len(d.configs))
	}
}

func TestResetConsumer(t *testing.T) {
	d := &dialRecorder{bus: func() stream.Bus { return &scriptedBus{} }}
	cfg := jsonConfig(d.dial)
	c, err := openConsumer(context.Background(), cfg, fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	d.fail = 1
	nc, err := resetConsumer(context.Background(), c, cfg, fastBackoff, logger.NewNop())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !c.Retired() || nc.SessionID() == c.SessionID() {
		t.Fatalf("expected old retired and a new session")
	}
	last := d.configs[len(d.configs)-1]
	failed := d.configs[len(d.configs)-2]
	if last.GroupID != nc.SessionID().GroupID() || failed.GroupID != last.GroupID {
		t.Errorf("retry must keep the reset session: failed=%s last=%s", failed.GroupID, last.GroupID)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Stream.Epoch = 3
	cfg.Stream.PollInterval = 5 * time.Millisecond
	cfg.HTTP.Port = 0
	cfg.Backoff = fastBackoff

	bus := &scriptedBus{batches: [][]stream.MessageSet{{set([]int64{10, 11, 12}, `"A"`, `"B"`, `"C"`)}}}
	d := &dialRecorder{bus: func() stream.Bus { return bus }}
	mem := newMem()
	previous := stream.NewSessionID()
	mem.data[registry.Key("events-epoch-3")] = []byte(previous.String())

	var out syncBuffer
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = Run(ctx, cfg, Options{Sink: &out, Dial: d.dial, Storage: mem}, logger.NewNop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[0] != `{"offset":10,"payload":"A"}` {
		t.Fatalf("unexpected output %q", out.String())
	}
	if d.configs[0].GroupID != previous.GroupID() {
		t.Errorf("expected the stored session to be resumed, got %s", d.configs[0].GroupID)
	}
	if !bus.closed {
		t.Error("bus must be closed on shutdown")
	}
}

func TestRun_ResetStoresNewSession(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.HTTP.Port = 0
	cfg.Backoff = fastBackoff

	d := &dialRecorder{bus: func() stream.Bus { return &scriptedBus{} }}
	mem := newMem()
	previous := stream.NewSessionID()
	key := registry.Key(cfg.Stream.Topic())
	mem.data[key] = []byte(previous.String())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := Run(ctx, cfg, Options{Reset: true, Sink: &syncBuffer{}, Dial: d.dial, Storage: mem}, logger.NewNop()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(d.configs) != 2 || d.configs[1].GroupID == previous.GroupID() {
		t.Fatalf("expected a reset dial under a new group, got %+v", d.configs)
	}
	if got := string(mem.data[key]); got == previous.String() {
		t.Error("registry must hold the new session after reset")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
