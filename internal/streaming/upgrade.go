package streaming

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// IsUpgradeRequest reports whether r is a WebSocket upgrade request, the
// one body shape spec §4.2 carves out of the frame-at-a-time byte relay:
// a long-lived, message-framed, bidirectional stream instead of a single
// downstream response body.
func IsUpgradeRequest(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

func headerContainsToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  FrameSize,
	WriteBufferSize: FrameSize,
	CheckOrigin:     func(*http.Request) bool { return true }, // origin policy is Cedar's job, not the transport's
}

// RelayUpgrade terminates the client's WebSocket handshake, dials the
// same handshake against upstreamURL, and pumps messages between the two
// connections until either side closes, honoring ping/pong and close
// control frames per gorilla/websocket's default handler behavior rather
// than splicing raw bytes blind to WebSocket framing.
func RelayUpgrade(w http.ResponseWriter, r *http.Request, upstreamURL string, upstreamHeader http.Header, logger *slog.Logger) error {
	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   FrameSize,
		WriteBufferSize:  FrameSize,
	}
	upstream, _, err := dialer.Dial(upstreamURL, upstreamHeader)
	if err != nil {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream dial failed"),
			time.Now().Add(time.Second))
		return err
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go pumpMessages(client, upstream, done, logger)
	go pumpMessages(upstream, client, done, logger)
	<-done
	return nil
}

func pumpMessages(src, dst *websocket.Conn, done chan<- struct{}, logger *slog.Logger) {
	defer func() { done <- struct{}{} }()
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			closeErr := websocket.CloseNormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				closeErr = ce.Code
			}
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeErr, ""), time.Now().Add(time.Second))
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			if logger != nil {
				logger.Debug("websocket relay write failed", "error", err)
			}
			return
		}
	}
}
