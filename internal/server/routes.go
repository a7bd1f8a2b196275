package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"tabletop-server/internal/storage"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/sessions", s.listSessionsHandler)
	mux.HandleFunc("POST /api/sessions", s.createSessionHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.cfg.Origins() {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return "null"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "tabletop-server"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":      "up",
		"store":       "up",
		"sessions":    s.sessions.Len(),
		"connections": s.connections.Count(),
	}
	status := http.StatusOK
	if err := s.persistence.Ping(ctx); err != nil {
		resp["status"] = "down"
		resp["store"] = "down"
		resp["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// SessionListing is one row of GET /api/sessions.
type SessionListing struct {
	storage.Record
	Live bool `json:"live"`
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.persistence.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sessions failed", slog.String("error", err.Error()))
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	out := make([]SessionListing, 0, len(recs))
	for _, rec := range recs {
		_, live := s.sessions.Get(rec.ID)
		out = append(out, SessionListing{Record: rec, Live: live})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := GenerateSessionID(func(id string) bool {
		_, live := s.sessions.Get(id)
		return live
	})
	s.sessions.GetOrCreate(id)
	s.logger.Info("session created", slog.String("session", id))
	s.writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Origins(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	socket.SetReadLimit(s.cfg.MaxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connectionID := s.newID()
	logger := s.logger.With(slog.String("conn", connectionID))
	client := newClient(connectionID, socket, s.cfg.SendQueue, logger)
	s.connections.AddClient(client)
	s.health.UpdateActivity(connectionID)
	logger.Info("connection opened", slog.String("remote", r.RemoteAddr))

	go client.writePump(ctx)
	defer func() {
		s.disconnect(client)
		client.Close(websocket.StatusGoingAway, "Server closing")
		logger.Info("connection closed")
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			logger.Debug("read ended", slog.String("error", err.Error()))
			return
		}

		if msgType != websocket.MessageText {
			logger.Debug("ignoring non-text frame")
			continue
		}

		s.health.UpdateActivity(connectionID)
		s.handleFrame(client, data)
	}
}

// handleFrame decodes and dispatches one inbound frame. A failure in one
// message never ends the connection.
func (s *Server) handleFrame(c *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				slog.String("conn", c.ID()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			s.sendError(c, CodeInternal, "internal error")
		}
	}()

	if !s.rateLimiter.Allow(c.ID()) {
		s.sendError(c, CodeRateLimited, "Too many messages, slow down")
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, CodeInvalidJSON, "Invalid JSON")
		return
	}

	if err := ValidateMessageType(msg.Type); err != nil {
		s.sendError(c, CodeInvalidMessageType, fmt.Sprintf("Unknown message type '%s'", msg.Type))
		return
	}

	s.logger.Debug("message", slog.String("conn", c.ID()), slog.String("type", msg.Type))

	if err := s.dispatch(c, msg); err != nil {
		switch {
		case errors.Is(err, ErrInvalidPayload):
			detail := strings.TrimPrefix(err.Error(), ErrInvalidPayload.Error()+": ")
			s.sendError(c, CodeInvalidPayload, fmt.Sprintf("%s: %s", msg.Type, detail))
		case errors.Is(err, ErrUnknownMessageType):
			s.sendError(c, CodeInvalidMessageType, err.Error())
		default:
			s.logger.Error("handler failed", slog.String("type", msg.Type), slog.String("error", err.Error()))
			s.sendError(c, CodeInternal, "internal error")
		}
	}
}

func (s *Server) dispatch(c *Client, msg ClientMessage) error {
	switch msg.Type {
	case "ping":
		s.send(c, "pong", struct{}{})
		return nil

	case "join_session":
		return handle(c, msg.Payload, s.handleJoinSession)
	case "player_join":
		return handle(c, msg.Payload, s.handlePlayerJoin)
	case "leave_session":
		return handle(c, msg.Payload, s.handleLeaveSession)

	case "add_map":
		return handle(c, msg.Payload, s.handleAddMap)
	case "update_map":
		return handle(c, msg.Payload, s.handleUpdateMap)
	case "delete_map":
		return handle(c, msg.Payload, s.handleDeleteMap)
	case "add_entity":
		return handle(c, msg.Payload, s.handleAddEntity)
	case "update_entity":
		return handle(c, msg.Payload, s.handleUpdateEntity)
	case "delete_entity":
		return handle(c, msg.Payload, s.handleDeleteEntity)
	case "token_update":
		return handle(c, msg.Payload, s.handleTokenUpdate)
	case "drawing_update":
		return handle(c, msg.Payload, s.handleDrawingUpdate)
	case "clear_drawings":
		return handle(c, msg.Payload, s.handleClearDrawings)
	case "update_fog_state":
		return handle(c, msg.Payload, s.handleUpdateFog)
	case "clear_fog_state":
		return handle(c, msg.Payload, s.handleClearFog)
	case "update_grid_settings":
		return handle(c, msg.Payload, s.handleUpdateGrid)

	case "update_permissions":
		return handle(c, msg.Payload, s.handleUpdatePermissions)
	case "get_players":
		return handle(c, msg.Payload, s.handleGetPlayers)
	case "send_ping":
		return handle(c, msg.Payload, s.handleSendPing)
	case "roll_dice":
		return handle(c, msg.Payload, s.handleRollDice)

	case "send_private_message":
		return handle(c, msg.Payload, s.handleSendPrivateMessage)
	case "get_conversation":
		return handle(c, msg.Payload, s.handleGetConversation)
	case "get_chat_contacts":
		return handle(c, msg.Payload, s.handleGetChatContacts)
	case "mark_conversation_read":
		return handle(c, msg.Payload, s.handleMarkConversationRead)

	case "scene_create":
		return handle(c, msg.Payload, s.handleSceneCreate)
	case "scene_update":
		return handle(c, msg.Payload, s.handleSceneUpdate)
	case "scene_delete":
		return handle(c, msg.Payload, s.handleSceneDelete)
	case "scene_switch":
		return handle(c, msg.Payload, s.handleSceneSwitch)
	case "scene_toggle_visibility":
		return handle(c, msg.Payload, s.handleSceneToggleVisibility)
	case "request_current_scene":
		return handle(c, msg.Payload, s.handleRequestCurrentScene)

	case "save_session":
		return handle(c, msg.Payload, s.handleSaveSession)

	default:
		return fmt.Errorf("%w '%s'", ErrUnknownMessageType, msg.Type)
	}
}

// handle decodes and validates a payload into a fresh request before
// calling fn.
func handle[T any, PT interface {
	*T
	Validate() error
}](c *Client, raw json.RawMessage, fn func(*Client, PT)) error {
	req := PT(new(T))
	if isNull(raw) {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return invalid("malformed payload")
	}
	if err := req.Validate(); err != nil {
		return err
	}
	fn(c, req)
	return nil
}
