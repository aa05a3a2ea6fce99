// Package api serves the REST endpoints the realtime client depends on.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/table-talk25/TableTalk-app-sub000/internal/server/middleware"
	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
)

// Relay is the live side of the server the handlers reach into.
type Relay interface {
	// PushNotification sends new_notification to every connection of userID.
	PushNotification(userID string, n protocol.Notification)
	// LeaveRoom drops userID from the live chat room.
	LeaveRoom(userID, chatID string)
}

type Handler struct {
	store  store.Store
	relay  Relay
	now    func() time.Time
	logger *slog.Logger
}

func New(st store.Store, relay Relay, logger *slog.Logger) *Handler {
	return &Handler{
		store:  st,
		relay:  relay,
		now:    time.Now,
		logger: logger.With(slog.String("component", "rest_api")),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleCreateChat)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Delete("/chats/{chatID}/participants", h.handleLeaveChat)

	r.Get("/notifications", h.handleListNotifications)
	r.Post("/notifications/read", h.handleMarkAllRead)
	r.Post("/notifications/{notificationID}/mark-as-read", h.handleMarkRead)

	r.Post("/invitations", h.handleInvite)
	r.Post("/invitations/accept", h.handleAcceptInvitation)
}

func caller(r *http.Request) (*middleware.RequestMetadata, bool) {
	meta, ok := middleware.ReqMetadataFrom(r.Context())
	return meta, ok && meta.UserID != ""
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req protocol.CreateChat
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participants := []string{me.UserID}
	for _, p := range req.Participants {
		if p != "" && p != me.UserID {
			participants = append(participants, p)
		}
	}
	chat, err := h.store.CreateChat(protocol.Chat{MealID: req.MealID, Participants: participants})
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Info("Chat created", slog.String("chatID", chat.ID), slog.String("userID", me.UserID))
	respondJSON(w, http.StatusCreated, chat)
}

// loadChat fetches a chat the caller participates in, answering the
// request itself on failure.
func (h *Handler) loadChat(w http.ResponseWriter, r *http.Request, userID string) (protocol.Chat, bool) {
	chat, err := h.store.GetChat(chi.URLParam(r, "chatID"))
	if err != nil {
		h.storeError(w, err)
		return protocol.Chat{}, false
	}
	if !store.IsParticipant(chat, userID) {
		respondError(w, http.StatusForbidden, "not a participant of this chat")
		return protocol.Chat{}, false
	}
	return chat, true
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	chat, ok := h.loadChat(w, r, me.UserID)
	if !ok {
		return
	}
	if chat.Messages == nil {
		chat.Messages = []protocol.Message{}
	}
	respondJSON(w, http.StatusOK, chat)
}

func (h *Handler) handleLeaveChat(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	chat, ok := h.loadChat(w, r, me.UserID)
	if !ok {
		return
	}
	if err := h.store.RemoveParticipant(chat.ID, me.UserID); err != nil {
		h.storeError(w, err)
		return
	}
	h.relay.LeaveRoom(me.UserID, chat.ID)
	respondJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.store.ListNotifications(me.UserID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if list == nil {
		list = []protocol.Notification{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.store.MarkAllRead(me.UserID); err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.store.MarkRead(me.UserID, chi.URLParam(r, "notificationID")); err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var inv protocol.Invitation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if inv.ToUserID == "" || inv.ToUserID == me.UserID {
		respondError(w, http.StatusBadRequest, "toUserId must name another user")
		return
	}

	text := inv.Message
	if text == "" {
		text = fmt.Sprintf("%s invited you to a meal", displayName(me))
	}
	n := protocol.Notification{
		Type:      protocol.NotificationNewInvitation,
		Message:   text,
		CreatedAt: h.now().UTC(),
	}
	if inv.ChatID != "" || inv.MealID != "" {
		n.Data = &protocol.NotificationData{ChatID: inv.ChatID, MealID: inv.MealID}
	}
	if !h.notify(w, inv.ToUserID, n) {
		return
	}
	respondJSON(w, http.StatusCreated, nil)
}

func (h *Handler) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var accept protocol.InvitationAccept
	if err := json.NewDecoder(r.Body).Decode(&accept); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if accept.ChatID == "" || accept.FromUserID == "" {
		respondError(w, http.StatusBadRequest, "fromUserId and chatId are required")
		return
	}

	if err := h.store.AddParticipant(accept.ChatID, me.UserID); err != nil {
		h.storeError(w, err)
		return
	}
	chat, err := h.store.GetChat(accept.ChatID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	n := protocol.Notification{
		Type:      protocol.NotificationInvitationAccepted,
		Message:   fmt.Sprintf("%s accepted your invitation", displayName(me)),
		CreatedAt: h.now().UTC(),
		Data:      &protocol.NotificationData{ChatID: chat.ID, MealID: chat.MealID},
	}
	if !h.notify(w, accept.FromUserID, n) {
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

// notify stores n for userID and pushes it to their live connections.
func (h *Handler) notify(w http.ResponseWriter, userID string, n protocol.Notification) bool {
	stored, err := h.store.AddNotification(userID, n)
	if err != nil {
		h.storeError(w, err)
		return false
	}
	h.relay.PushNotification(userID, stored)
	return true
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNoParticipants):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Store operation failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func displayName(meta *middleware.RequestMetadata) string {
	if meta.DisplayName != "" {
		return meta.DisplayName
	}
	return meta.UserID
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}
