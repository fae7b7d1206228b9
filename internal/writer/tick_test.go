package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/goldstream/internal/model"
	"github.com/rickgao/goldstream/internal/router"
)

func testTick(sec int) model.Tick {
	return model.Tick{
		Epic:      "GOLD",
		Timestamp: time.Date(2024, 1, 15, 12, 0, sec, 0, time.UTC),
		Bid:       decimal.NewNullDecimal(decimal.RequireFromString("1900.0")),
		Ask:       decimal.NewNullDecimal(decimal.RequireFromString("1900.5")),
		Mid:       decimal.NewNullDecimal(decimal.RequireFromString("1900.25")),
	}
}

func TestNewTickRow(t *testing.T) {
	vol := int64(7)
	tick := testTick(0)
	tick.Volume = &vol
	tick.Timestamp = tick.Timestamp.In(time.FixedZone("UTC+2", 7200))
	receivedAt := time.Date(2024, 1, 15, 14, 0, 1, 0, time.FixedZone("UTC+2", 7200))

	row := newTickRow(tick, receivedAt)

	if row.Epic != "GOLD" {
		t.Errorf("Epic = %s, want GOLD", row.Epic)
	}
	if row.Ts.Location() != time.UTC || !row.Ts.Equal(tick.Timestamp) {
		t.Errorf("Ts = %v, want UTC %v", row.Ts, tick.Timestamp)
	}
	if !row.Mid.Valid || !row.Mid.Decimal.Equal(decimal.RequireFromString("1900.25")) {
		t.Errorf("Mid = %v", row.Mid)
	}
	if row.Volume == nil || *row.Volume != 7 {
		t.Errorf("Volume = %v, want 7", row.Volume)
	}
	if row.ReceivedAt.Location() != time.UTC || !row.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v", row.ReceivedAt)
	}
	if got := len(row.args()); got != 7 {
		t.Errorf("args = %d, want 7", got)
	}
}

func TestTickWriter_StartStop(t *testing.T) {
	input := router.NewQueue[model.Tick](4, 16)
	w := NewTickWriter(WriterConfig{BatchSize: 10, FlushInterval: 100 * time.Millisecond}, input, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestTickWriter_EnqueueReportsFull(t *testing.T) {
	w := NewTickWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour}, router.NewQueue[model.Tick](4, 16), nil, nil)

	if w.enqueue(nil) {
		t.Error("empty enqueue reported full")
	}
	if w.enqueue([]model.Tick{testTick(0), testTick(1)}) {
		t.Error("2 of 3 reported full")
	}
	if !w.enqueue([]model.Tick{testTick(2)}) {
		t.Error("3 of 3 not reported full")
	}
	if n := len(w.takePending()); n != 3 {
		t.Errorf("pending = %d, want 3", n)
	}
	if n := len(w.takePending()); n != 0 {
		t.Errorf("pending after take = %d, want 0", n)
	}
}

func TestTickWriter_FlushCountsDuplicates(t *testing.T) {
	db := &fakeDB{rowsAffected: func(i int) int64 {
		if i == 1 {
			return 0
		}
		return 1
	}}
	w := NewTickWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour}, router.NewQueue[model.Tick](4, 16), db, nil)

	w.enqueue([]model.Tick{testTick(0), testTick(1), testTick(2)})
	w.flush()

	queued := db.queued()
	if len(queued) != 3 {
		t.Fatalf("queued = %d, want 3", len(queued))
	}
	if queued[0].Arguments[0] != "GOLD" {
		t.Errorf("epic arg = %v", queued[0].Arguments[0])
	}
	if stats := w.Stats(); stats.Inserts != 2 || stats.Conflicts != 1 || stats.Flushes != 1 {
		t.Errorf("stats = %+v, want 2 inserts 1 conflict 1 flush", stats)
	}
}

func TestTickWriter_FlushSplitsOversizedBuffer(t *testing.T) {
	db := &fakeDB{}
	w := NewTickWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour}, router.NewQueue[model.Tick](4, 16), db, nil)

	w.enqueue([]model.Tick{testTick(0), testTick(1), testTick(2), testTick(3), testTick(4)})
	w.flush()

	db.mu.Lock()
	batches := len(db.batches)
	db.mu.Unlock()
	if batches != 3 {
		t.Errorf("batches = %d, want 3", batches)
	}
	if stats := w.Stats(); stats.Inserts != 5 || stats.Flushes != 3 {
		t.Errorf("stats = %+v, want 5 inserts over 3 flushes", stats)
	}
}

func TestTickWriter_FlushError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewTickWriter(WriterConfig{BatchSize: 1, FlushInterval: time.Hour}, router.NewQueue[model.Tick](4, 16), db, nil)

	w.enqueue([]model.Tick{testTick(0)})
	w.flush()

	if stats := w.Stats(); stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v, want 1 error", stats)
	}
}

func TestTickWriter_NilDBDiscards(t *testing.T) {
	w := NewTickWriter(WriterConfig{BatchSize: 1, FlushInterval: time.Hour}, router.NewQueue[model.Tick](4, 16), nil, nil)

	w.enqueue([]model.Tick{testTick(0)})
	w.flush()

	if stats := w.Stats(); stats != (WriterMetrics{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestTickWriter_ConsumesQueue(t *testing.T) {
	db := &fakeDB{}
	input := router.NewQueue[model.Tick](4, 16)
	w := NewTickWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		input.Push(testTick(i))
	}

	deadline := time.Now().Add(time.Second)
	for w.Stats().Inserts < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(stopCtx)

	if got := w.Stats().Inserts; got != 5 {
		t.Errorf("Inserts = %d, want 5", got)
	}
}

func TestTickWriter_StopDrainsQueue(t *testing.T) {
	db := &fakeDB{}
	input := router.NewQueue[model.Tick](4, 16)
	w := NewTickWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)

	// Never started: Stop must still persist what is queued.
	input.Push(testTick(0))
	input.Push(testTick(1))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(stopCtx)

	if got := w.Stats().Inserts; got != 2 {
		t.Errorf("Inserts = %d, want 2", got)
	}
	if input.Len() != 0 {
		t.Errorf("queue length = %d, want 0", input.Len())
	}
}
