package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/errors"
)

// FeedbackRequest is the JSON form of POST /feedback. File is base64 in JSON.
type FeedbackRequest struct {
	IsDeepfake  json.RawMessage `json:"is_deepfake"`
	File        []byte          `json:"file"`
	Filename    string          `json:"filename"`
	Source      string          `json:"source"`
	AutoRetrain *bool           `json:"auto_retrain"`
}

// FeedbackResponse is the result of POST /feedback
type FeedbackResponse struct {
	Message string `json:"message"`
	*detector.FeedbackResult
}

// ParseLabel interprets an is_deepfake value. JSON literals are tried first: booleans as is,
// numbers as non-zero, strings by their content. Bare words true/1 and false/0 are accepted
// in any case. An empty value means authentic.
func ParseLabel(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch val := v.(type) {
		case nil:
			return false, nil
		case bool:
			return val, nil
		case float64:
			return val != 0, nil
		case string:
			return parseLabelWord(val)
		}
		return false, detector.MissingLabel(raw)
	}
	return parseLabelWord(raw)
}

func parseLabelWord(word string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, detector.MissingLabel(word)
}

func isJSONRequest(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

// readFeedback builds a Feedback from either a JSON body or a multipart form
func (c *Controller) readFeedback(ctx echo.Context) (detector.Feedback, error) {
	fb := detector.Feedback{AutoRetrain: c.Settings.Detector.AutoRetrain}

	if isJSONRequest(ctx) {
		var req FeedbackRequest
		if err := json.NewDecoder(ctx.Request().Body).Decode(&req); err != nil {
			return fb, errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("operation", "decode_feedback").
				Build()
		}
		if len(req.File) == 0 {
			return fb, errNoFile
		}
		label, err := ParseLabel(string(req.IsDeepfake))
		if err != nil {
			return fb, err
		}
		fb.Data, fb.Label, fb.Source = req.File, label, req.Source
		if req.AutoRetrain != nil {
			fb.AutoRetrain = *req.AutoRetrain
		}
		return fb, nil
	}

	up, err := readUpload(ctx)
	if err != nil {
		return fb, err
	}
	label, err := ParseLabel(ctx.FormValue("is_deepfake"))
	if err != nil {
		return fb, err
	}
	fb.Data, fb.Label, fb.Source = up.data, label, ctx.FormValue("source")
	if raw := ctx.FormValue("auto_retrain"); raw != "" {
		auto, err := strconv.ParseBool(raw)
		if err != nil {
			return fb, errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Context("field", "auto_retrain").
				Build()
		}
		fb.AutoRetrain = auto
	}
	return fb, nil
}

// Feedback handles POST /feedback
func (c *Controller) Feedback(ctx echo.Context) error {
	fb, err := c.readFeedback(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errNoFile):
		return c.HandleError(ctx, err, "No file uploaded", http.StatusBadRequest)
	case errors.Is(err, detector.ErrMissingLabel):
		return c.HandleError(ctx, err, "is_deepfake must be true or false", http.StatusBadRequest)
	default:
		return c.HandleError(ctx, err, "Invalid feedback request", http.StatusBadRequest)
	}
	c.recordUpload(ctx, len(fb.Data))

	res, err := c.Engine.SubmitFeedback(ctx.Request().Context(), fb)
	if err != nil {
		if detector.IsInputError(err) {
			return c.HandleError(ctx, err, "Unsupported or unreadable media", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Failed to record feedback", http.StatusInternalServerError)
	}

	msg := "Feedback recorded"
	if res.Warning != "" {
		msg = "Feedback recorded, persistence pending"
	}
	if res.RetrainTriggered {
		msg += ", retraining started"
	}
	return ctx.JSON(http.StatusOK, FeedbackResponse{Message: msg, FeedbackResult: res})
}
