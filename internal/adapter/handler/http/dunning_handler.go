package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/middleware/auth"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
	"go.uber.org/zap"
)

// DunningUsecase is the orchestrator surface exposed to operators
type DunningUsecase interface {
	GetEpisode(ctx context.Context, subscriptionID string) (*entity.Episode, error)
	ListEpisodes(ctx context.Context, filter entity.EpisodeFilter, page entity.PaginationParams) (*entity.PaginatedEpisodesResponse, error)
	ManualRetry(ctx context.Context, subscriptionID, actorID string) (*entity.Episode, error)
	ManualResolve(ctx context.Context, subscriptionID, actorID, reason string) (*entity.Episode, error)
	ManualSuspend(ctx context.Context, subscriptionID, actorID, reason string) (*entity.Episode, error)
}

type DunningHandler struct {
	usecase DunningUsecase
	logger  *zap.Logger
}

func NewDunningHandler(usecase DunningUsecase, logger *zap.Logger) *DunningHandler {
	return &DunningHandler{
		usecase: usecase,
		logger:  logger,
	}
}

// ListEpisodesRequest is the query of the episode listing
type ListEpisodesRequest struct {
	State string `query:"state" validate:"omitempty,oneof=RETRYING WARNING_SENT ACTION_REQUIRED FINAL_WARNING SUSPENDED RESOLVED"`
	Page  int    `query:"page" validate:"omitempty,min=1"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ResolveRequest is the body of a manual resolve
type ResolveRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// SuspendRequest is the body of a manual suspend
type SuspendRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *DunningHandler) ListEpisodes(c echo.Context) error {
	var req ListEpisodesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid query parameters")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var filter entity.EpisodeFilter
	if req.State != "" {
		state, _ := entity.ParseEpisodeState(req.State)
		filter.State = &state
	}

	page := entity.PaginationParams{Page: req.Page, Limit: req.Limit}
	page.Validate()

	result, err := h.usecase.ListEpisodes(c.Request().Context(), filter, page)
	if err != nil {
		apperrors.LogError(h.logger, err, "Failed to list episodes")
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *DunningHandler) GetEpisode(c echo.Context) error {
	subscriptionID := c.Param("subscriptionId")

	episode, err := h.usecase.GetEpisode(c.Request().Context(), subscriptionID)
	if err != nil {
		apperrors.LogError(h.logger, err, "Failed to get episode",
			zap.String("subscription_id", subscriptionID))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, episode)
}

func (h *DunningHandler) Retry(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	subscriptionID := c.Param("subscriptionId")

	episode, err := h.usecase.ManualRetry(c.Request().Context(), subscriptionID, user.UserID)
	if err != nil {
		apperrors.LogError(h.logger, err, "Manual retry failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("actor", user.UserID))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusAccepted, episode)
}

func (h *DunningHandler) Resolve(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	subscriptionID := c.Param("subscriptionId")

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	episode, err := h.usecase.ManualResolve(c.Request().Context(), subscriptionID, user.UserID, req.Reason)
	if err != nil {
		apperrors.LogError(h.logger, err, "Manual resolve failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("actor", user.UserID))
		return apperrors.ToHTTPError(err)
	}

	h.logger.Info("Episode resolved by operator",
		zap.String("subscription_id", subscriptionID),
		zap.String("actor", user.UserID))
	return c.JSON(http.StatusOK, episode)
}

func (h *DunningHandler) Suspend(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	subscriptionID := c.Param("subscriptionId")

	var req SuspendRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	episode, err := h.usecase.ManualSuspend(c.Request().Context(), subscriptionID, user.UserID, req.Reason)
	if err != nil {
		apperrors.LogError(h.logger, err, "Manual suspend failed",
			zap.String("subscription_id", subscriptionID),
			zap.String("actor", user.UserID))
		return apperrors.ToHTTPError(err)
	}

	h.logger.Info("Episode suspended by operator",
		zap.String("subscription_id", subscriptionID),
		zap.String("actor", user.UserID))
	return c.JSON(http.StatusOK, episode)
}
