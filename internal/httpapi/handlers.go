package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/hub"
	"github.com/DoyleJ11/kuhhandel/internal/identity"
	"github.com/DoyleJ11/kuhhandel/internal/types"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// Player is who this process plays as unless a request names someone else.
type Player struct {
	ID   string
	Name string
}

type joinRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type joinResponse struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id"`
}

func (p Player) resolve(r *http.Request) (string, string, error) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", "", err
	}
	id, name := req.PlayerID, req.Name
	if id == "" {
		id = p.ID
	}
	if name == "" {
		name = p.Name
	}
	id = identity.Ensure(id)
	name = identity.NormalizeName(name)
	if name == "" {
		name = id
	}
	return id, name, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreateRoom(h *hub.Hub, me Player, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, name, err := me.resolve(r)
		if err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			existing, err := h.Get(r.Context(), c)
			if err != nil {
				http.Error(w, "failed to create room", http.StatusInternalServerError)
				return
			}
			if existing == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		room, err := h.Join(r.Context(), code, id, name)
		if err != nil || room.Dispatcher() == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		log.Info("room created", zap.String("room", code), zap.String("player", id))
		writeJSON(w, http.StatusCreated, joinResponse{Code: code, PlayerID: room.Dispatcher().PlayerID()})
	}
}

func JoinRoom(h *hub.Hub, me Player, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		id, name, err := me.resolve(r)
		if err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		room, err := h.Join(r.Context(), code, id, name)
		if err != nil || room.Dispatcher() == nil {
			http.Error(w, "failed to join room", http.StatusInternalServerError)
			return
		}
		log.Info("room joined", zap.String("room", code), zap.String("player", room.Dispatcher().PlayerID()))
		writeJSON(w, http.StatusOK, joinResponse{Code: code, PlayerID: room.Dispatcher().PlayerID()})
	}
}

func GetState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := h.Get(r.Context(), chi.URLParam(r, "code"))
		if err != nil || room == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		v, err := room.Dispatcher().State(r.Context())
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, types.StateSnapshot(v))
	}
}

// PostAction submits one intent. 202 means it was published, not applied:
// the Host decides, and the outcome shows up in the next snapshot.
func PostAction(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := h.Get(r.Context(), chi.URLParam(r, "code"))
		if err != nil || room == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		var cm types.ClientMessage
		if err := json.NewDecoder(r.Body).Decode(&cm); err != nil {
			writeJSON(w, http.StatusBadRequest, types.Error("bad json"))
			return
		}
		d := room.Dispatcher()
		t, payload, err := cm.Action(d.PlayerID())
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, types.ErrUnknownAction) {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, types.Error(err.Error()))
			return
		}
		if err := d.Submit(r.Context(), t, payload); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, types.Error(err.Error()))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
