package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/api"
	"github.com/serona-ai/serona/internal/auth"
	"github.com/serona-ai/serona/internal/quota"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// OwnershipMiddleware resolves the chatID URL parameter, verifies the
// authenticated user owns the chat, and stores it in the request context.
func (h *Handler) OwnershipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUserID(w, r)
		if !ok {
			return
		}

		chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid chat id"))
			return
		}

		chat, err := h.svc.GetChat(r.Context(), chatID)
		if err != nil {
			slog.Error("resolving chat", "error", err, "chat_id", chatID)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		if chat == nil {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		if chat.UserID != userID {
			api.HandleError(w, api.ErrOwnershipViolation)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetChatInContext(r.Context(), chat)))
	})
}

// CreateChat handles POST /api/v1/chats.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	chat, err := h.svc.CreateChat(r.Context(), userID, req.Title)
	if err != nil {
		slog.Error("creating chat", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, chat)
}

// ListChats handles GET /api/v1/chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	params := DefaultListParams()
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}

	chats, total, err := h.svc.ListChats(r.Context(), userID, params)
	if err != nil {
		slog.Error("listing chats", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, chats, total, params.Page, params.PageSize)
}

// DeleteChat handles DELETE /api/v1/chats/{chatID}.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if err := h.svc.DeleteChat(r.Context(), chat.ID, userID); err != nil {
		slog.Error("deleting chat", "error", err, "chat_id", chat.ID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "chat deleted")
}

// ListMessages handles GET /api/v1/chats/{chatID}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := h.svc.ListMessages(r.Context(), chat.ID, limit)
	if err != nil {
		slog.Error("listing messages", "error", err, "chat_id", chat.ID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, msgs)
}

// SendMessage handles POST /api/v1/chats/{chatID}/messages. Quota denials
// are returned as 429 with the full decision body so the client can render
// the limit modal directly from the response.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}
	chat := GetChatFromContext(r.Context())
	if chat == nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	exchange, err := h.svc.SendMessage(r.Context(), chat, userID, req.Content)
	if err != nil {
		var denied *QuotaDeniedError
		if errors.As(err, &denied) {
			if denied.Decision.Reason == quota.ReasonStoreUnavailable {
				api.HandleError(w, api.ErrStoreUnavailable)
				return
			}
			api.JSON(w, http.StatusTooManyRequests, denied.Decision)
			return
		}
		slog.Error("sending message", "error", err, "chat_id", chat.ID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, exchange)
}

func authedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
