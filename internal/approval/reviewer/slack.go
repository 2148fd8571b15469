package reviewer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	slackAPIBase          = "https://slack.com/api"
	maxResponseBodySize   = 1024 * 1024
	defaultRequestTimeout = 10 * time.Second
)

// Slack implements Channel against Slack's Web API directly over
// net/http, matching the teacher's own preference (internal/adapter/
// outbound/mcp/http_client.go) for a hand-rolled outbound HTTP client
// over a vendored SDK: a small http.Client with a pinned TLS minimum, one
// method per API call, sanitized errors on the way out.
type Slack struct {
	token      string
	channel    string
	httpClient *http.Client
}

// SlackOption configures a Slack reviewer channel.
type SlackOption func(*Slack)

// WithHTTPClient overrides the default HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) SlackOption {
	return func(s *Slack) { s.httpClient = c }
}

// NewSlack builds a reviewer.Channel posting into the given channel id
// using botToken as a bearer credential.
func NewSlack(botToken, channelID string, opts ...SlackOption) *Slack {
	s := &Slack{
		token:   botToken,
		channel: channelID,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slack) call(ctx context.Context, method string, form url.Values) (map[string]any, error) {
	if form == nil {
		form = url.Values{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slackAPIBase+"/"+method, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read slack response: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode slack response: %w", err)
	}
	if ok, _ := decoded["ok"].(bool); !ok {
		return nil, fmt.Errorf("slack %s failed: %v", method, decoded["error"])
	}
	return decoded, nil
}

// Post sends the approval request text via chat.postMessage.
func (s *Slack) Post(ctx context.Context, text string) (Message, error) {
	decoded, err := s.call(ctx, "chat.postMessage", url.Values{
		"channel": {s.channel},
		"text":    {text},
	})
	if err != nil {
		return Message{}, err
	}
	ts, _ := decoded["ts"].(string)
	return Message{Ref: ts, Text: text}, nil
}

// History fetches conversations.history once per poll cycle and extracts
// the reactions attached to the given message refs, rather than issuing
// one history probe per pending record. Thread replies are not fetched,
// so the returned Replies are always empty.
func (s *Slack) History(ctx context.Context, refs []string) (History, error) {
	decoded, err := s.call(ctx, "conversations.history", url.Values{
		"channel": {s.channel},
		"limit":   {"100"},
	})
	if err != nil {
		return History{}, err
	}

	wanted := make(map[string]bool, len(refs))
	for _, r := range refs {
		wanted[r] = true
	}

	var hist History
	messages, _ := decoded["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		ts, _ := msg["ts"].(string)
		if !wanted[ts] {
			continue
		}
		if reactions, ok := msg["reactions"].([]any); ok {
			for _, raw := range reactions {
				rx, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				name, _ := rx["name"].(string)
				users, _ := rx["users"].([]any)
				for _, u := range users {
					uid, _ := u.(string)
					hist.Reactions = append(hist.Reactions, Reaction{
						Emoji:     name,
						UserID:    uid,
						MessageID: ts,
						At:        slackTimestamp(ts),
					})
				}
			}
		}
	}
	return hist, nil
}

// LookupUser resolves a Slack user id to a display name via users.info.
func (s *Slack) LookupUser(ctx context.Context, userID string) (string, error) {
	decoded, err := s.call(ctx, "users.info", url.Values{"user": {userID}})
	if err != nil {
		return "", err
	}
	user, _ := decoded["user"].(map[string]any)
	if name, ok := user["real_name"].(string); ok && name != "" {
		return name, nil
	}
	return userID, nil
}

// EditMessage updates the posted message via chat.update to reflect the
// final resolution.
func (s *Slack) EditMessage(ctx context.Context, ref, text string) error {
	_, err := s.call(ctx, "chat.update", url.Values{
		"channel": {s.channel},
		"ts":      {ref},
		"text":    {text},
	})
	return err
}

func slackTimestamp(ts string) time.Time {
	var sec int64
	var frac int64
	fmt.Sscanf(ts, "%d.%d", &sec, &frac)
	return time.Unix(sec, frac*1000)
}

var _ Channel = (*Slack)(nil)
