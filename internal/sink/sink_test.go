package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/goldstream/internal/model"
)

func tickAt(epic string, sec int, bid string) model.Tick {
	b := decimal.RequireFromString(bid)
	return model.Tick{
		Epic:      epic,
		Timestamp: time.Date(2024, 1, 15, 12, 0, sec, 0, time.UTC),
		Bid:       decimal.NewNullDecimal(b),
		Mid:       decimal.NewNullDecimal(b),
	}
}

func TestRedis_PublishStoresLatestAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "gold:", "gold:ticks")
	defer r.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "gold:ticks")
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	err = r.Publish(ctx, []model.Tick{tickAt("GOLD", 1, "1900.0"), tickAt("GOLD", 2, "1901.0")})
	require.NoError(t, err)

	raw, err := r.Latest(ctx, "GOLD")
	require.NoError(t, err)

	var latest map[string]any
	require.NoError(t, json.Unmarshal(raw, &latest))
	assert.Equal(t, "GOLD", latest["epic"])
	assert.Equal(t, "1901", latest["bid"])

	ch := sub.Channel()
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			assert.Contains(t, msg.Payload, `"epic":"GOLD"`)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestRedis_PublishError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "gold:", "gold:ticks")
	defer r.Close()

	mr.Close()
	err := r.Publish(context.Background(), []model.Tick{tickAt("GOLD", 1, "1900.0")})
	assert.Error(t, err)
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeKafkaWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestKafka_Publish(t *testing.T) {
	w := &fakeKafkaWriter{}
	k := NewKafka(w)

	tick := tickAt("XAU/USD", 3, "2030.5")
	require.NoError(t, k.Publish(context.Background(), []model.Tick{tick}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "XAU/USD", string(msg.Key))
	assert.True(t, msg.Time.Equal(tick.Timestamp))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "2030.5", payload["bid"])
	assert.Nil(t, payload["ask"])
}

func TestKafka_PublishError(t *testing.T) {
	k := NewKafka(&fakeKafkaWriter{err: errors.New("leader not available")})
	err := k.Publish(context.Background(), []model.Tick{tickAt("GOLD", 1, "1900")})
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "gold-ticks", 50*time.Millisecond)
	defer w.Close()
	assert.Equal(t, "gold-ticks", w.Topic)
	assert.Equal(t, 50*time.Millisecond, w.BatchTimeout)
}

func TestAsync_PublishesAndCloses(t *testing.T) {
	w := &fakeKafkaWriter{}
	a := NewAsync(NewKafka(w), 16, nil)
	require.NoError(t, a.Start(context.Background()))

	for i := 0; i < 5; i++ {
		a.HandleTick(tickAt("GOLD", i, "1900"))
	}

	assert.Eventually(t, func() bool { return w.count() == 5 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	assert.True(t, w.closed)
	assert.Equal(t, int64(5), a.Stats().Published)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	w := &fakeKafkaWriter{}
	a := NewAsync(NewKafka(w), 2, nil)

	// Not started: the buffer fills and the rest are dropped.
	for i := 0; i < 5; i++ {
		a.HandleTick(tickAt("GOLD", i, "1900"))
	}
	assert.Equal(t, int64(3), a.Stats().Dropped)

	// Stop flushes what was buffered.
	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 2, w.count())
}

func TestAsync_CountsErrors(t *testing.T) {
	a := NewAsync(NewKafka(&fakeKafkaWriter{err: errors.New("down")}), 4, nil)
	a.HandleTick(tickAt("GOLD", 1, "1900"))
	require.NoError(t, a.Stop(context.Background()))

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Published)
}

func TestAsync_LogsSinkNameOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("component", "sink")

	a := NewAsync(NewKafka(&fakeKafkaWriter{}), 4, logger)
	require.NoError(t, a.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, "sink=kafka"), line)
		assert.Equal(t, 1, strings.Count(line, "component=sink"), line)
	}
}
