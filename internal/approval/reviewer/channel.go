// Package reviewer defines the narrow interface the approval coordinator
// polls and posts through, and a Slack implementation of it.
//
// Grounded on spec's "polymorphism over reviewer backends" design note
// and shaped after the pack's small single-purpose interfaces (one verb
// set, no generic "do everything" client) rather than wrapping a full
// vendor SDK.
package reviewer

import (
	"context"
	"time"
)

// Message is one posted approval request, as it exists in the reviewer
// channel.
type Message struct {
	Ref  string // channel-native id (e.g. Slack ts) used for History/EditMessage
	Text string
}

// Reaction is a single reaction applied to a message, timestamped so the
// coordinator can pick an earliest-wins winner when both an approve and a
// reject reaction are present (spec §4.5).
type Reaction struct {
	Emoji     string
	UserID    string
	MessageID string
	At        time.Time
}

// Reply is a text reply to a message, used for the keyword-match decision
// path when no reaction is present.
type Reply struct {
	Text      string
	UserID    string
	MessageID string
	At        time.Time
}

// History is one batch poll result: every reaction and reply observed on
// messages the coordinator is waiting on, since the last poll.
type History struct {
	Reactions []Reaction
	Replies   []Reply
}

// Channel is the one thing the approval coordinator needs from a reviewer
// backend: post a request, batch-poll for decisions, resolve a user id to
// a display name, and edit the posted message once resolved.
type Channel interface {
	// Post sends a new approval request and returns the message it was
	// posted as.
	Post(ctx context.Context, text string) (Message, error)

	// History returns reactions/replies observed on the given messages
	// since the last call, in one round trip rather than one probe per
	// pending record.
	History(ctx context.Context, refs []string) (History, error)

	// LookupUser resolves a reviewer channel user id to a display name.
	LookupUser(ctx context.Context, userID string) (string, error)

	// EditMessage updates a previously posted message, used to reflect
	// the final resolution (e.g. "Approved by alice").
	EditMessage(ctx context.Context, ref, text string) error
}
