package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

type memorySink struct {
	mu      sync.Mutex
	records []auth.DecisionRecord
	block   chan struct{}
}

func (m *memorySink) Record(ctx context.Context, rec auth.DecisionRecord) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	rec := auth.DecisionRecord{
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ActorID:    "usr_1",
		Role:       auth.RoleAgent,
		AgencyID:   "agc_1",
		Module:     auth.ModuleClients,
		Action:     auth.ActionDelete,
		Decision:   "deny",
		Reason:     "action not granted",
	}
	if err := (LogSink{}).Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "authz_decision" || entry["reason"] != "action not granted" || entry["module"] != "clients" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestAsyncSinkDeliversAndCloses(t *testing.T) {
	next := &memorySink{}
	s := NewAsyncSink(next, 8, time.Second)
	for i := 0; i < 5; i++ {
		if err := s.Record(context.Background(), auth.DecisionRecord{ActorID: "usr_1"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if next.len() != 5 {
		t.Fatalf("expected 5 delivered records, got %d", next.len())
	}
	if err := s.Record(context.Background(), auth.DecisionRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	next := &memorySink{block: make(chan struct{})}
	s := NewAsyncSink(next, 1, time.Second)

	var dropped int
	for i := 0; i < 10; i++ {
		if err := s.Record(context.Background(), auth.DecisionRecord{}); err != nil {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatalf("expected drops with a blocked writer")
	}
	close(next.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	good := &memorySink{}
	m := MultiSink{good, failingSink{boom}}
	if err := m.Record(context.Background(), auth.DecisionRecord{}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if good.len() != 1 {
		t.Fatalf("healthy sink should still receive the record")
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, auth.DecisionRecord) error { return f.err }
