package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/thoughtgate/thoughtgate/internal/adapter/outbound/celctx"
	"github.com/thoughtgate/thoughtgate/internal/approval/reviewer"
)

const defaultMaxPendingPerShard = 100

// Config carries the coordinator's tunables, named in spec §6:
// APPROVAL_POLL_INTERVAL_SECS sets the ticker driving poll cycles.
// MaxPollInterval (APPROVAL_POLL_MAX_INTERVAL_SECS) is stored but not
// read: each record's backoff is capped by the fixed maxBackoff (30s)
// instead. ApproveReaction/RejectReaction are the two
// emoji the decision-detection order checks first. ApproveKeywords/
// RejectKeywords are compiled celctx programs evaluated against the
// reply's text when no reaction settles the decision.
type Config struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	ApproveReaction string
	RejectReaction  string
	ApproveKeywords cel.Program
	RejectKeywords  cel.Program
}

// Coordinator owns the sharded pending-record map and the single
// background poller that resolves records against a reviewer.Channel.
//
// Grounded on internal/domain/action/approval_interceptor.go's
// ApprovalStore, split into shardCount independent shards (spec §5's
// explicit sharding requirement) and driven by a background poller
// instead of resolving synchronously from an in-process admin call.
type Coordinator struct {
	shards  []*shard
	channel reviewer.Channel
	cfg     Config
	ctxEval *celctx.Evaluator
	logger  *slog.Logger

	userCache sync.Map // userID -> display name, an LRU-in-spirit cache (spec §4.5); unbounded here, acceptable at reviewer-channel cardinality
}

// NewCoordinator builds a coordinator with shardCount independently
// locked shards, each capped at maxPendingPerShard total pending records.
func NewCoordinator(channel reviewer.Channel, cfg Config, ctxEval *celctx.Evaluator, logger *slog.Logger) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = maxBackoff
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard(defaultMaxPendingPerShard)
	}
	return &Coordinator{
		shards:  shards,
		channel: channel,
		cfg:     cfg,
		ctxEval: ctxEval,
		logger:  logger,
	}
}

// Submit posts a new approval request and registers a pending record,
// returning the record so the caller can WaitFor its resolution.
func (c *Coordinator) Submit(ctx context.Context, toolName, principalName string, args map[string]any, timeout time.Duration) (*Record, error) {
	text := fmt.Sprintf("Approval requested: %s by %s %v", toolName, principalName, args)
	msg, err := c.channel.Post(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("post approval request: %w", err)
	}

	id := uuid.New().String()
	r := newRecord(id, toolName, principalName, args, time.Now().Add(timeout))
	r.ChannelRef = msg.Ref

	shardFor(c.shards, id).add(r)
	c.logger.Info("approval request posted",
		"approval_id", id, "tool", toolName, "principal", principalName, "timeout", timeout)
	return r, nil
}

// WaitFor blocks until r resolves by decision, timeout, or ctx
// cancellation, then performs the zombie-execution liveness check
// immediately before reporting Approved, per spec §4.5: the check is
// repeated here rather than trusted from submission time, because the
// client may have disconnected during the wait.
//
// isLive is supplied by this call's own caller rather than installed as
// coordinator-wide state: two requests can be in WaitFor concurrently
// (one parked on an approval, another just passing through), and each
// must be checked against its own connection, not whichever caller
// happened to register a closure last.
func (c *Coordinator) WaitFor(ctx context.Context, r *Record, connRef string, isLive func(connRef string) bool) Resolution {
	timer := time.NewTimer(time.Until(r.Deadline))
	defer timer.Stop()

	var res Resolution
	select {
	case res = <-r.result:
	case <-timer.C:
		res = Resolution{Outcome: TimedOut, Reason: "approval deadline reached"}
	case <-ctx.Done():
		res = Resolution{Outcome: ClientGone, Reason: "client disconnected while awaiting approval"}
	}
	shardFor(c.shards, r.ID).remove(r.ID)

	if res.Outcome == Approved && isLive != nil && !isLive(connRef) {
		res = Resolution{Outcome: ClientGone, Reason: "client connection gone before forward"}
	}

	editText := resolutionMessage(r, res)
	if err := c.channel.EditMessage(context.Background(), r.ChannelRef, editText); err != nil {
		c.logger.Warn("failed to edit approval message with final resolution", "approval_id", r.ID, "error", err)
	}
	return res
}

func resolutionMessage(r *Record, res Resolution) string {
	switch res.Outcome {
	case Approved:
		who := res.By
		if who == "" {
			who = "unknown reviewer"
		}
		return fmt.Sprintf("Approved by %s: %s", who, r.ToolName)
	case Rejected:
		return fmt.Sprintf("Rejected: %s (%s)", r.ToolName, res.Reason)
	case TimedOut:
		return fmt.Sprintf("Expired (no response): %s", r.ToolName)
	case ClientGone:
		return fmt.Sprintf("Client disconnected, no action taken: %s", r.ToolName)
	default:
		return fmt.Sprintf("Resolved: %s", r.ToolName)
	}
}

// Run drives the single background poller until ctx is cancelled. It
// batches every pending record sharing the same reviewer channel into one
// History call per cycle (spec §4.5) rather than one probe per record.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context) {
	now := time.Now()
	due := make(map[string]*Record)
	for _, sh := range c.shards {
		sh.forEachPending(func(r *Record) {
			if r.duePoll(now) {
				due[r.ChannelRef] = r
			}
		})
	}
	if len(due) == 0 {
		return
	}

	refs := make([]string, 0, len(due))
	for ref := range due {
		refs = append(refs, ref)
	}
	hist, err := c.channel.History(ctx, refs)
	if err != nil {
		c.logger.Warn("approval channel history poll failed", "error", err)
		return
	}

	c.resolveFromHistory(ctx, due, hist)
}

// resolveFromHistory applies spec §4.5's decision-detection order:
// approve reaction, then reject reaction (earliest timestamp wins if
// both are present), then keyword-matched reply text.
func (c *Coordinator) resolveFromHistory(ctx context.Context, due map[string]*Record, hist reviewer.History) {
	type candidate struct {
		approve bool
		at      time.Time
		userID  string
	}
	winners := make(map[string]candidate)

	consider := func(ref string, approve bool, at time.Time, userID string) {
		cur, ok := winners[ref]
		if !ok || at.Before(cur.at) {
			winners[ref] = candidate{approve: approve, at: at, userID: userID}
		}
	}

	for _, rx := range hist.Reactions {
		switch rx.Emoji {
		case c.cfg.ApproveReaction:
			consider(rx.MessageID, true, rx.At, rx.UserID)
		case c.cfg.RejectReaction:
			consider(rx.MessageID, false, rx.At, rx.UserID)
		}
	}

	sort.Slice(hist.Replies, func(i, j int) bool { return hist.Replies[i].At.Before(hist.Replies[j].At) })
	for _, reply := range hist.Replies {
		if _, decided := winners[reply.MessageID]; decided {
			continue
		}
		if c.matchesKeyword(c.cfg.ApproveKeywords, reply.Text) {
			consider(reply.MessageID, true, reply.At, reply.UserID)
		} else if c.matchesKeyword(c.cfg.RejectKeywords, reply.Text) {
			consider(reply.MessageID, false, reply.At, reply.UserID)
		}
	}

	for ref, win := range winners {
		r, ok := due[ref]
		if !ok {
			continue
		}
		by, err := c.userDisplayName(ctx, win.userID)
		if err != nil {
			by = win.userID
		}
		outcome := Rejected
		reason := "rejected by reviewer"
		if win.approve {
			outcome = Approved
			reason = ""
		}
		shardFor(c.shards, r.ID).resolve(r.ID, Resolution{Outcome: outcome, By: by, Reason: reason})
		c.logger.Info("approval resolved",
			"approval_id", r.ID, "tool", r.ToolName, "outcome", outcome, "by", by,
			"waited", humanize.Time(r.CreatedAt))
	}
}

func (c *Coordinator) matchesKeyword(prog cel.Program, text string) bool {
	if prog == nil || text == "" {
		return false
	}
	ok, err := c.ctxEval.EvalBool(prog, celctx.Variables{ReplyText: text})
	return err == nil && ok
}

func (c *Coordinator) userDisplayName(ctx context.Context, userID string) (string, error) {
	if v, ok := c.userCache.Load(userID); ok {
		return v.(string), nil
	}
	name, err := c.channel.LookupUser(ctx, userID)
	if err != nil {
		return "", err
	}
	c.userCache.Store(userID, name)
	return name, nil
}
