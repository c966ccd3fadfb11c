package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"messageai/internal/servicetoken"
	"messageai/internal/usertoken"
	"messageai/internal/util"
	"messageai/pkg/domain"
	"messageai/services/conversation/internal/app"
	"messageai/services/conversation/internal/authclient"
	"messageai/services/conversation/internal/hub"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	Auth            *authclient.Client
	Hub             *hub.Hub
	TokenVerifier   *usertoken.Verifier
	ServiceVerifier *servicetoken.Verifier
}

// Server exposes the conversation HTTP and WebSocket endpoints.
type Server struct {
	app             *app.App
	auth            *authclient.Client
	hub             *hub.Hub
	tokenVerifier   *usertoken.Verifier
	serviceVerifier *servicetoken.Verifier
	upgrader        websocket.Upgrader
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		auth:            cfg.Auth,
		hub:             cfg.Hub,
		tokenVerifier:   cfg.TokenVerifier,
		serviceVerifier: cfg.ServiceVerifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers connect through the gateway; origin policy lives there
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("GET /chats", s.withUser(s.handleListChats))
	s.mux.Handle("POST /chats", s.withUser(s.handleCreateChat))
	s.mux.Handle("GET /chats/{id}", s.withUser(s.handleGetChat))
	s.mux.Handle("PATCH /chats/{id}", s.withUser(s.handleRenameChat))
	s.mux.Handle("GET /chats/{id}/messages", s.withUser(s.handleListMessages))
	s.mux.Handle("POST /chats/{id}/messages", s.withUser(s.handleSendMessage))
	s.mux.Handle("POST /chats/{id}/messages/{mid}/retry", s.withUser(s.handleRetryMessage))
	s.mux.Handle("POST /chats/{id}/read", s.withUser(s.handleMarkRead))
	s.mux.Handle("PUT /chats/{id}/messages/{mid}/reactions/{emoji}", s.withUser(s.handleAddReaction))
	s.mux.Handle("DELETE /chats/{id}/messages/{mid}/reactions/{emoji}", s.withUser(s.handleRemoveReaction))
	s.mux.Handle("POST /chats/{id}/participants", s.withUser(s.handleAddParticipants))
	s.mux.Handle("DELETE /chats/{id}/participants/{uid}", s.withUser(s.handleRemoveParticipant))
	s.mux.Handle("GET /chats/{id}/subscribe", s.withUser(s.handleSubscribe))
	s.mux.Handle("GET /users/search", s.withUser(s.handleUserSearch))

	s.mux.Handle("GET /internal/chats/{id}/context", s.serviceOnly(s.handleChatContext))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth client not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		user, err := s.auth.Me(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) serviceOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceVerifier == nil {
			writeError(w, http.StatusForbidden, "internal API disabled")
			return
		}
		token, ok := servicetoken.FromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "service token required")
			return
		}
		if _, err := s.serviceVerifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request, user domain.User) {
	summaries, err := s.app.ListChats(user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: summaries, Count: len(summaries)})
}

type createChatRequest struct {
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"isGroup"`
	GroupName    string   `json:"groupName"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chat, err := s.app.CreateChat(user.ID, req.Participants, req.IsGroup, req.GroupName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	chat, err := s.app.GetChat(user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type renameChatRequest struct {
	GroupName string `json:"groupName"`
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req renameChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chat, err := s.app.RenameChat(user.ID, r.PathValue("id"), req.GroupName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	msgs, err := s.app.ListMessages(user.ID, r.PathValue("id"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: msgs, Count: len(msgs)})
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.SendMessage(r.Context(), user.ID, r.PathValue("id"), req.Content, domain.MessageType(req.Type))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleRetryMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	msg, err := s.app.RetryMessage(r.Context(), user.ID, r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	newlyRead, err := s.app.MarkRead(user.ID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"markedRead": newlyRead})
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleReaction(w, r, user, true)
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.handleReaction(w, r, user, false)
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request, user domain.User, add bool) {
	msg, err := s.app.React(user.ID, r.PathValue("id"), r.PathValue("mid"), r.PathValue("emoji"), add)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type participantsRequest struct {
	UserIDs []string `json:"userIds"`
}

func (s *Server) handleAddParticipants(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req participantsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "userIds is required")
		return
	}
	chat, err := s.app.AddParticipants(user.ID, r.PathValue("id"), req.UserIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request, user domain.User) {
	chat, err := s.app.RemoveParticipant(user.ID, r.PathValue("id"), r.PathValue("uid"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleUserSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.SearchUsers(r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: users, Count: len(users)})
}

const (
	wsWriteWait    = 10 * time.Second
	wsReadDeadline = 60 * time.Second
	wsPingPeriod   = 45 * time.Second
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.hub == nil {
		writeError(w, http.StatusInternalServerError, "live hub not configured")
		return
	}
	chatID := r.PathValue("id")
	if err := s.app.CanSubscribe(user.ID, chatID); err != nil {
		writeAppError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	clientID := util.NewID()
	events := s.hub.Subscribe(chatID, clientID, user.ID)
	defer s.hub.Unsubscribe(chatID, clientID)

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case payload, open := <-events:
				if !open {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// reader loop: subscribers only listen, but reads detect disconnects and
	// keep pong handling alive
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	}
}

func (s *Server) handleChatContext(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	chat, msgs, err := s.app.ChatContext(r.PathValue("id"), limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatContextResponse{
		ChatID:       chat.ID,
		Name:         chat.DisplayName(),
		IsGroup:      chat.IsGroup,
		Participants: chat.Participants,
		Messages:     msgs,
	})
}

type chatContextResponse struct {
	ChatID       string               `json:"chatId"`
	Name         string               `json:"name"`
	IsGroup      bool                 `json:"isGroup"`
	Participants []string             `json:"participants"`
	Messages     []app.ContextMessage `json:"messages"`
}

type listResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrChatNotFound), errors.Is(err, app.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrAdminOnly), errors.Is(err, app.ErrCreatorRemoval):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrGroupOnly),
		errors.Is(err, app.ErrParticipantsRequired),
		errors.Is(err, app.ErrDirectChatSize),
		errors.Is(err, app.ErrContentRequired),
		errors.Is(err, app.ErrGroupNameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		var apiErr *authclient.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, "identity service unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		// WebSocket clients cannot set headers from the browser and pass the
		// token as a query parameter instead
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		return token, token != ""
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
