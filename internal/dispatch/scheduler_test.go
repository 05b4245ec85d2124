package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/autoreply"
	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []bus.OutboundMessage
	fail  map[string]error // chat id -> error
	block map[string]chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if ch, ok := s.block[msg.ChatID]; ok {
		<-ch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.ChatID]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newReply(content string) *autoreply.Reply {
	return &autoreply.Reply{ID: "r-" + content, Kind: autoreply.KindKeyword, Content: content, CreatedAt: time.Now()}
}

func TestDispatchSuccess(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(sink)
	r := newReply("hi")

	err := s.Dispatch(context.Background(), r, Target{Channel: "whatsapp", ChatID: "a", ReplyTo: "m1", LinkPreview: true}, 0)
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if !r.Sent || r.SendError != "" {
		t.Fatalf("reply not marked sent: %+v", r)
	}
	if sink.count() != 1 {
		t.Fatalf("sink called %d times, want 1", sink.count())
	}
	msg := sink.sent[0]
	if msg.Content != "hi" || msg.Metadata[bus.MetaReplyTo] != "m1" || msg.Metadata[bus.MetaLinkPreview] != "true" {
		t.Fatalf("unexpected outbound message: %+v", msg)
	}
}

func TestDispatchFailureDoesNotAffectOthers(t *testing.T) {
	sink := &recordingSink{fail: map[string]error{"bad": errors.New("socket closed")}}
	s := NewScheduler(sink)

	failed := newReply("x")
	ok := newReply("y")

	var wg sync.WaitGroup
	wg.Add(2)
	s.Go(context.Background(), failed, Target{Channel: "whatsapp", ChatID: "bad"}, 10*time.Millisecond, func(*autoreply.Reply, error) { wg.Done() })
	s.Go(context.Background(), ok, Target{Channel: "whatsapp", ChatID: "good"}, 10*time.Millisecond, func(*autoreply.Reply, error) { wg.Done() })
	wg.Wait()

	if failed.Sent || failed.SendError == "" {
		t.Fatalf("failed reply state wrong: %+v", failed)
	}
	if !ok.Sent || ok.SendError != "" {
		t.Fatalf("independent reply affected: %+v", ok)
	}
	if sink.count() != 1 {
		t.Fatalf("sink recorded %d sends, want 1", sink.count())
	}
}

func TestSlowSendDoesNotBlockOtherConversation(t *testing.T) {
	release := make(chan struct{})
	sink := &recordingSink{block: map[string]chan struct{}{"slow": release}}
	s := NewScheduler(sink)

	slow, fast := newReply("slow"), newReply("fast")
	fastDone := make(chan struct{})
	s.Go(context.Background(), slow, Target{ChatID: "slow"}, 0, nil)
	s.Go(context.Background(), fast, Target{ChatID: "fast"}, 0, func(*autoreply.Reply, error) { close(fastDone) })

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast conversation blocked by slow one")
	}
	close(release)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !slow.Sent || !fast.Sent {
		t.Fatalf("expected both sent: slow=%+v fast=%+v", slow, fast)
	}
}

func TestNegativeDelayIsImmediate(t *testing.T) {
	s := NewScheduler(&recordingSink{})
	r := newReply("now")
	start := time.Now()
	if err := s.Dispatch(context.Background(), r, Target{ChatID: "a"}, -5*time.Second); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("negative delay should be treated as zero")
	}
}

func TestGoSurvivesCancelledContext(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(sink)
	ctx, cancel := context.WithCancel(context.Background())
	r := newReply("pending")

	s.Go(ctx, r, Target{ChatID: "a"}, 20*time.Millisecond, nil)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := s.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !r.Sent {
		t.Fatalf("in-flight send should complete after cancellation: %+v", r)
	}
}

func TestDispatchHonoursCancelDuringDelay(t *testing.T) {
	sink := &recordingSink{}
	s := NewScheduler(sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newReply("x")
	if err := s.Dispatch(ctx, r, Target{ChatID: "a"}, time.Hour); err == nil {
		t.Fatal("expected error when context is cancelled before the delay elapses")
	}
	if r.Sent || r.SendError == "" || sink.count() != 0 {
		t.Fatalf("unexpected state: %+v sends=%d", r, sink.count())
	}
}

func TestWaitTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := NewScheduler(&recordingSink{block: map[string]chan struct{}{"a": release}})
	s.Go(context.Background(), newReply("x"), Target{ChatID: "a"}, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected Wait to time out while a send is blocked")
	}
}
