package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/apikit/internal/devserver/middleware"
	"github.com/iudanet/apikit/internal/devserver/storage"
	"github.com/iudanet/apikit/pkg/api"
)

// ProfileHandler обрабатывает запросы профиля пользователя
type ProfileHandler struct {
	logger *slog.Logger
	users  storage.UserStore
}

// NewProfileHandler создает новый handler профиля
func NewProfileHandler(logger *slog.Logger, users storage.UserStore) *ProfileHandler {
	return &ProfileHandler{
		logger: logger,
		users:  users,
	}
}

// Me обрабатывает GET /users/me
// Возвращает профиль аутентифицированного пользователя
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.ClaimsFrom(ctx)
	if !ok {
		sendError(h.logger, w, api.CodeUnauthorized, "not authenticated", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "profile requested for deleted user", slog.String("user_id", claims.Subject))
			sendError(h.logger, w, api.CodeNotFound, "user not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		sendError(h.logger, w, api.CodeServer, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(userData(user)); err != nil {
		h.logger.Error("failed to write profile response", slog.Any("error", err))
	}
}
