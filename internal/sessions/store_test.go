package sessions

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetOrCreateCountsMessages(t *testing.T) {
	st := NewStore(10)
	s1 := st.GetOrCreate("whatsapp:direct:1")
	s2 := st.GetOrCreate("whatsapp:direct:1")
	if s1 != s2 {
		t.Fatal("expected the same session for the same conversation")
	}
	snap := s1.Snapshot()
	if snap.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", snap.MessageCount)
	}
	if snap.StartedAt.IsZero() || snap.LastActivityAt.Before(snap.StartedAt) {
		t.Fatalf("bad timestamps: %+v", snap)
	}
}

func TestAppendTurnKeepsLatestTwenty(t *testing.T) {
	st := NewStore(10)
	s := st.GetOrCreate("c")
	for i := 0; i < 11; i++ {
		st.AppendTurn(s, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}

	h := s.History()
	if len(h) != MaxHistory {
		t.Fatalf("len(history) = %d, want %d", len(h), MaxHistory)
	}
	if h[0].Content != "u1" || h[0].Role != RoleUser {
		t.Fatalf("oldest entry = %+v, want u1 from user", h[0])
	}
	if last := h[len(h)-1]; last.Content != "a10" || last.Role != RoleAssistant {
		t.Fatalf("newest entry = %+v, want a10 from assistant", last)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	st := NewStore(10)
	s := st.GetOrCreate("c")
	st.SetContext(s, "user_name", "Lan")
	st.AppendTurn(s, "hi", "hello")

	snap := s.Snapshot()
	snap.History[0].Content = "changed"
	snap.Context["user_name"] = "changed"

	if got := s.History()[0].Content; got != "hi" {
		t.Fatalf("history mutated through snapshot: %q", got)
	}
	if v, _ := s.Context("user_name"); v != "Lan" {
		t.Fatalf("context mutated through snapshot: %q", v)
	}
}

func TestCapacityEvictsLeastRecent(t *testing.T) {
	st := NewStore(2)
	st.GetOrCreate("a")
	st.GetOrCreate("b")
	st.GetOrCreate("a") // a is now most recent
	st.GetOrCreate("c")

	if st.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", st.Len())
	}
	if _, ok := st.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := st.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
}

func TestSweepRemovesIdle(t *testing.T) {
	st := NewStore(10)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	st.GetOrCreate("old")
	now = now.Add(2 * time.Hour)
	st.GetOrCreate("fresh")

	if n := st.Sweep(time.Hour); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := st.Get("old"); ok {
		t.Fatal("old session should be gone")
	}
	if _, ok := st.Get("fresh"); !ok {
		t.Fatal("fresh session should remain")
	}
	if n := st.Sweep(0); n != 0 {
		t.Fatalf("Sweep(0) removed %d, want 0", n)
	}
}

func TestConcurrentSameConversation(t *testing.T) {
	st := NewStore(100)
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := st.GetOrCreate("shared")
			st.AppendTurn(s, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	s, ok := st.Get("shared")
	if !ok {
		t.Fatal("session missing")
	}
	snap := s.Snapshot()
	if snap.MessageCount != workers {
		t.Fatalf("MessageCount = %d, want %d", snap.MessageCount, workers)
	}
	if len(snap.History) != MaxHistory {
		t.Fatalf("len(history) = %d, want %d", len(snap.History), MaxHistory)
	}
	// turns are appended atomically, so user/assistant entries stay paired
	for i := 0; i < len(snap.History); i += 2 {
		u, a := snap.History[i], snap.History[i+1]
		if u.Role != RoleUser || a.Role != RoleAssistant || u.Content[1:] != a.Content[1:] {
			t.Fatalf("unpaired turn at %d: %+v / %+v", i, u, a)
		}
	}
}

func TestConversationKey(t *testing.T) {
	key := ConversationKey("telegram", PeerGroup, "-100:42")
	if key != "telegram:group:-100:42" {
		t.Fatalf("ConversationKey = %q", key)
	}
	ch, kind, chat, ok := ParseConversationKey(key)
	if !ok || ch != "telegram" || kind != PeerGroup || chat != "-100:42" {
		t.Fatalf("ParseConversationKey = %q %q %q %v", ch, kind, chat, ok)
	}
	if _, _, _, ok := ParseConversationKey("telegram:bogus:1"); ok {
		t.Fatal("expected invalid peer kind to fail")
	}
	if got := ConversationKey("whatsapp", "", "1"); got != "whatsapp:direct:1" {
		t.Fatalf("empty kind should default to direct, got %q", got)
	}
}

func TestNewSweeperValidatesSchedule(t *testing.T) {
	if _, err := NewSweeper(NewStore(1), time.Hour, "not a cron"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	w, err := NewSweeper(NewStore(1), 0, "")
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if w.ttl != DefaultIdleTTL || w.schedule != DefaultSweepSchedule {
		t.Fatalf("defaults not applied: ttl=%v schedule=%q", w.ttl, w.schedule)
	}
}

func TestSweeperStartStop(t *testing.T) {
	w, err := NewSweeper(NewStore(1), time.Hour, "* * * * *")
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	w.Start(t.Context())
	w.Start(t.Context()) // second start is a no-op
	w.Stop()
	w.Stop()
}
