package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"visionedge/internal/logging"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingPeriod   = (feedPongWait * 9) / 10
	feedBatchLimit   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// FeedMessage is the JSON document written for every buffered packet.
type FeedMessage struct {
	Cursor uint64 `json:"cursor"`
	Topic  string `json:"topic"`
	Packet any    `json:"packet"`
}

// Feed streams hub records to websocket clients. Clients may pass
// ?since=<cursor> to replay buffered packets and ?frames=1 to receive frame
// bytes (omitted by default).
type Feed struct {
	hub     *Hub
	logger  *slog.Logger
	clients atomic.Int64
}

// NewFeed serves records from hub.
func NewFeed(hub *Hub, logger *slog.Logger) *Feed {
	return &Feed{hub: hub, logger: logging.NewComponentLogger(logger, "feed")}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int { return int(f.clients.Load()) }

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := f.hub.Cursor()
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	withFrames := r.URL.Query().Get("frames") == "1"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.clients.Add(1)
	defer f.clients.Add(-1)
	f.logger.Debug("feed client connected", logging.String("remote", r.RemoteAddr), logging.Uint64("since", since))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		readLoop(conn)
	}()

	f.writeLoop(ctx, conn, since, withFrames)
	_ = conn.Close()
}

func (f *Feed) writeLoop(ctx context.Context, conn *websocket.Conn, since uint64, withFrames bool) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, feedPingPeriod)
		records, _, err := f.hub.Fetch(waitCtx, since, feedBatchLimit, true)
		cancel()
		if ctx.Err() != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err != nil {
			if werr := conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
				return
			}
			continue
		}
		for _, rec := range records {
			pkt := rec.Packet
			if !withFrames {
				pkt.Frame = nil
			}
			payload, merr := json.Marshal(FeedMessage{Cursor: rec.Cursor, Topic: rec.Topic, Packet: pkt})
			if merr != nil {
				continue
			}
			if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
				f.logger.Debug("feed client write failed", logging.Error(werr))
				return
			}
			since = rec.Cursor
		}
	}
}

// readLoop drains control frames until the client goes away.
func readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
