package quota

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/api"
	"github.com/serona-ai/serona/internal/auth"
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

// Check handles POST /api/v1/quota/check. Denials are 200 responses with
// allowed=false: a limit is a displayable outcome, not a transport error.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	decision := h.svc.Check(r.Context(), userID, req.InputTokens, req.OutputTokens)
	if decision.Reason == ReasonStoreUnavailable {
		api.HandleError(w, api.ErrStoreUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, decision)
}

// GetStatus handles GET /api/v1/quota.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	status, err := h.svc.GetStatus(r.Context(), userID)
	if err != nil {
		slog.Error("getting quota status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
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
