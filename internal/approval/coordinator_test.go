package approval

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/thoughtgate/thoughtgate/internal/approval/reviewer"
)

type fakeChannel struct {
	mu        sync.Mutex
	posted    []string
	refs      int
	reactions []reviewer.Reaction
	edits     map[string]string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{edits: make(map[string]string)}
}

func (f *fakeChannel) Post(ctx context.Context, text string) (reviewer.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs++
	ref := "msg-" + time.Now().Format("150405.000000")
	f.posted = append(f.posted, text)
	return reviewer.Message{Ref: ref, Text: text}, nil
}

func (f *fakeChannel) History(ctx context.Context, refs []string) (reviewer.History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return reviewer.History{Reactions: append([]reviewer.Reaction{}, f.reactions...)}, nil
}

func (f *fakeChannel) LookupUser(ctx context.Context, userID string) (string, error) {
	return "user:" + userID, nil
}

func (f *fakeChannel) EditMessage(ctx context.Context, ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[ref] = text
	return nil
}

func (f *fakeChannel) addReaction(ref, emoji, userID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reviewer.Reaction{Emoji: emoji, UserID: userID, MessageID: ref, At: at})
}

func testCoordinator(t *testing.T, ch reviewer.Channel) *Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(ch, Config{
		PollInterval:    5 * time.Millisecond,
		ApproveReaction: "thumbsup",
		RejectReaction:  "thumbsdown",
	}, nil, logger)
}

func TestSubmitThenApproveReactionResolves(t *testing.T) {
	ch := newFakeChannel()
	c := testCoordinator(t, ch)

	record, err := c.Submit(context.Background(), "delete_user", "agent-a", nil, time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch.addReaction(record.ChannelRef, "thumbsup", "U123", time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	res := c.WaitFor(context.Background(), record, "conn-1", nil)
	if res.Outcome != Approved {
		t.Fatalf("expected Approved, got %v (%s)", res.Outcome, res.Reason)
	}
}

func TestZombieCheckOverridesApproval(t *testing.T) {
	ch := newFakeChannel()
	c := testCoordinator(t, ch)

	record, err := c.Submit(context.Background(), "delete_user", "agent-a", nil, time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch.addReaction(record.ChannelRef, "thumbsup", "U123", time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	dead := func(connRef string) bool { return false }
	res := c.WaitFor(context.Background(), record, "conn-1", dead)
	if res.Outcome != ClientGone {
		t.Fatalf("expected ClientGone when liveness check fails, got %v", res.Outcome)
	}
}

// TestZombieCheckIsPerCall guards against the liveness probe being stored
// as coordinator-wide state: two concurrent WaitFor calls, each with its
// own isLive closure, must each be judged against their own connection,
// not whichever caller's closure happened to run last.
func TestZombieCheckIsPerCall(t *testing.T) {
	ch := newFakeChannel()
	c := testCoordinator(t, ch)

	liveRecord, err := c.Submit(context.Background(), "read_file", "agent-a", nil, time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadRecord, err := c.Submit(context.Background(), "delete_user", "agent-b", nil, time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch.addReaction(liveRecord.ChannelRef, "thumbsup", "U123", time.Now())
	ch.addReaction(deadRecord.ChannelRef, "thumbsup", "U123", time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go c.Run(ctx)

	var wg sync.WaitGroup
	var liveRes, deadRes Resolution
	wg.Add(2)
	go func() {
		defer wg.Done()
		liveRes = c.WaitFor(context.Background(), liveRecord, "conn-live", func(string) bool { return true })
	}()
	go func() {
		defer wg.Done()
		// Give the live WaitFor a head start so both calls are in flight
		// together, exercising the concurrent path the race covered.
		time.Sleep(5 * time.Millisecond)
		deadRes = c.WaitFor(context.Background(), deadRecord, "conn-dead", func(string) bool { return false })
	}()
	wg.Wait()

	if liveRes.Outcome != Approved {
		t.Errorf("expected the live connection's approval to resolve Approved, got %v", liveRes.Outcome)
	}
	if deadRes.Outcome != ClientGone {
		t.Errorf("expected the dead connection's approval to resolve ClientGone, got %v", deadRes.Outcome)
	}
}

func TestWaitForTimesOutWithoutDecision(t *testing.T) {
	ch := newFakeChannel()
	c := testCoordinator(t, ch)

	record, err := c.Submit(context.Background(), "delete_user", "agent-a", nil, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res := c.WaitFor(context.Background(), record, "conn-1", nil)
	if res.Outcome != TimedOut {
		t.Fatalf("expected TimedOut, got %v", res.Outcome)
	}
}

func TestShardEvictsOldestAtCapacity(t *testing.T) {
	s := newShard(2)
	a := newRecord("a", "t", "p", nil, time.Now().Add(time.Minute))
	b := newRecord("b", "t", "p", nil, time.Now().Add(time.Minute))
	c := newRecord("c", "t", "p", nil, time.Now().Add(time.Minute))
	s.add(a)
	s.add(b)
	s.add(c)

	if s.get("a") != nil {
		t.Error("expected oldest record to be evicted at capacity")
	}
	select {
	case res := <-a.result:
		if res.Outcome != Rejected {
			t.Errorf("expected evicted record to resolve Rejected, got %v", res.Outcome)
		}
	default:
		t.Error("expected evicted record's result channel to receive a resolution")
	}
}
