package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/hub"
	"github.com/DoyleJ11/kuhhandel/internal/types"
)

// Handler streams the local replica's snapshots of ?code= to the client and
// submits the client's intents as actions of that replica.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		room, err := h.Get(r.Context(), code)
		if err != nil || room == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		d := room.Dispatcher()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("ws accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan dispatcher.View, 16)
		watcherID := uuid.NewString()

		select {
		case d.Inbox() <- dispatcher.Watch{ID: watcherID, Outbox: out}:
		case <-room.Done():
			conn.Close(websocket.StatusTryAgainLater, "room stopped")
			return
		}
		defer func() {
			select {
			case d.Inbox() <- dispatcher.Unwatch{ID: watcherID}:
			case <-room.Done():
			}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case v, ok := <-out:
					if !ok {
						// The replica stopped or dropped us as too slow.
						conn.Close(websocket.StatusTryAgainLater, "replica restarted")
						return
					}
					write(writeCtx, conn, types.StateSnapshot(v))
				case <-room.Done():
					conn.Close(websocket.StatusTryAgainLater, "room stopped")
					return
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("ws read", zap.String("room", code), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.Error("bad json"))
				continue
			}
			t, payload, err := cm.Action(d.PlayerID())
			if err != nil {
				write(r.Context(), conn, types.Error(err.Error()))
				continue
			}
			if err := d.Submit(r.Context(), t, payload); err != nil {
				write(r.Context(), conn, types.Error(err.Error()))
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
