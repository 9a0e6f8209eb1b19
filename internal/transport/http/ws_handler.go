package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// WSHandler streams live standings of one contest to read-only watchers.
type WSHandler struct {
	service  *app.Service
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		logger:  logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// frame is every server to client message: "leaderboard" carries standings,
// "error" carries a message.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type problemFrame struct {
	Message string `json:"message"`
}

func standingsFrame(lb domain.Leaderboard) frame {
	return frame{Type: "leaderboard", Payload: lb}
}

func errorFrame(msg string) frame {
	return frame{Type: "error", Payload: problemFrame{Message: msg}}
}

// ServeWS upgrades the request and pushes a "leaderboard" frame on every standings
// change. Clients may send {"type":"refresh"} to get the current standings again.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	contestID, err := strconv.ParseInt(r.URL.Query().Get("contestId"), 10, 64)
	if err != nil || contestID <= 0 {
		http.Error(w, "missing or invalid contestId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe, err := h.service.Subscribe(r.Context(), contestID)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(errorFrame(err.Error()))
		return
	}
	defer unsubscribe()

	wt := &watcher{
		conn:   conn,
		outbox: make(chan frame, 16),
		quit:   make(chan struct{}),
		logger: h.logger.With().Int64("contest_id", contestID).Logger(),
	}
	wrote := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(wrote)
		wt.writeLoop()
	}()
	go func() {
		defer close(forwarded)
		wt.forward(updates)
	}()

	wt.readLoop(func(kind string) frame {
		if kind != "refresh" {
			return errorFrame("unsupported message type")
		}
		lb, err := h.service.GetLeaderboard(r.Context(), contestID)
		if err != nil {
			return errorFrame(err.Error())
		}
		return standingsFrame(lb)
	})

	// the outbox has exactly two senders: forward and readLoop
	close(wt.quit)
	<-forwarded
	close(wt.outbox)
	<-wrote
}

// watcher owns one connection. writeLoop is its only writer.
type watcher struct {
	conn   *websocket.Conn
	outbox chan frame
	quit   chan struct{}
	logger zerolog.Logger
}

func (wt *watcher) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case f, ok := <-wt.outbox:
			if !ok {
				return
			}
			_ = wt.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wt.conn.WriteJSON(f); err != nil {
				wt.logger.Debug().Err(err).Msg("ws write failed")
				// unblock the reader so the handler can unwind
				_ = wt.conn.Close()
				wt.drain()
				return
			}
		case <-ping.C:
			if err := wt.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = wt.conn.Close()
				wt.drain()
				return
			}
		}
	}
}

// drain discards frames until the outbox is closed.
func (wt *watcher) drain() {
	for range wt.outbox {
	}
}

func (wt *watcher) forward(updates <-chan domain.Leaderboard) {
	for {
		select {
		case lb, ok := <-updates:
			if !ok {
				return
			}
			select {
			case wt.outbox <- standingsFrame(lb):
			case <-wt.quit:
				return
			}
		case <-wt.quit:
			return
		}
	}
}

// readLoop answers client requests until the peer goes away or stops answering pings.
func (wt *watcher) readLoop(answer func(kind string) frame) {
	_ = wt.conn.SetReadDeadline(time.Now().Add(pongWait))
	wt.conn.SetPongHandler(func(string) error {
		return wt.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := wt.conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			wt.outbox <- errorFrame("invalid message")
			continue
		}
		wt.outbox <- answer(req.Type)
	}
}
