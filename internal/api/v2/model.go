package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cybershakti/deepfake-go/internal/archive"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/retrain"
)

// ModelResponse is the result of POST /retrain and POST /rollback
type ModelResponse struct {
	Message string `json:"message"`
	*detector.RetrainResult
}

// RollbackRequest selects the archived version to restore
type RollbackRequest struct {
	Version *uint64 `json:"version"`
}

// GetStats handles GET /stats
func (c *Controller) GetStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Engine.Stats())
}

// Retrain handles POST /retrain. Training runs synchronously within the request.
func (c *Controller) Retrain(ctx echo.Context) error {
	res, err := c.Engine.ManualRetrain(ctx.Request().Context())
	if err != nil {
		return c.modelError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, ModelResponse{
		Message:       fmt.Sprintf("Model retrained on %d samples", res.TrainedOnSampleCount),
		RetrainResult: res,
	})
}

// Rollback handles POST /rollback
func (c *Controller) Rollback(ctx echo.Context) error {
	var req RollbackRequest
	if err := ctx.Bind(&req); err != nil || req.Version == nil {
		return c.HandleError(ctx, err, "A version to roll back to is required", http.StatusBadRequest)
	}

	res, err := c.Engine.Rollback(ctx.Request().Context(), *req.Version)
	if err != nil {
		return c.modelError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, ModelResponse{
		Message:       fmt.Sprintf("Restored version %d as version %d", *req.Version, res.Version),
		RetrainResult: res,
	})
}

// modelError maps retrain and rollback failures to status codes
func (c *Controller) modelError(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, retrain.ErrInsufficientData):
		msg := fmt.Sprintf("Not enough training data, at least %d labeled samples are required",
			c.Settings.Detector.MinSamples)
		return c.HandleError(ctx, err, msg, http.StatusBadRequest)
	case errors.Is(err, retrain.ErrRetrainInProgress):
		return c.HandleError(ctx, err, "A retrain is already in progress", http.StatusConflict)
	case errors.Is(err, archive.ErrSnapshotNotFound):
		return c.HandleError(ctx, err, "Archived version not found", http.StatusNotFound)
	case errors.Is(err, retrain.ErrArchiveUnavailable):
		return c.HandleError(ctx, err, "Snapshot archive is not configured", http.StatusBadRequest)
	default:
		return c.HandleError(ctx, err, "Training failed, the previous model remains active",
			http.StatusInternalServerError)
	}
}
