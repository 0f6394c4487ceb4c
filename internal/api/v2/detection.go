package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/errors"
)

// errNoFile is returned when a multipart request has no "file" part
var errNoFile = errors.NewStd("no file uploaded")

// UploadMetadata describes the uploaded file in an analyze response
type UploadMetadata struct {
	Filename  string    `json:"filename"`
	FileSize  int64     `json:"file_size"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalyzeResponse is the result of POST /analyze
type AnalyzeResponse struct {
	*detector.Result
	Metadata UploadMetadata `json:"metadata"`
}

type upload struct {
	data     []byte
	filename string
}

// readUpload reads the multipart "file" part into memory. The body limit middleware bounds
// its size.
func readUpload(ctx echo.Context) (*upload, error) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	src, err := fh.Open()
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("operation", "open_upload").
			Build()
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Context("operation", "read_upload").
			Build()
	}
	return &upload{data: data, filename: fh.Filename}, nil
}

func (c *Controller) recordUpload(ctx echo.Context, size int) {
	if c.metrics != nil {
		c.metrics.HTTP.RecordUpload(ctx.Path(), int64(size))
	}
}

// Analyze handles POST /analyze
func (c *Controller) Analyze(ctx echo.Context) error {
	up, err := readUpload(ctx)
	if err != nil {
		if errors.Is(err, errNoFile) {
			return c.HandleError(ctx, err, "No file uploaded", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}
	c.recordUpload(ctx, len(up.data))

	result, err := c.Engine.Detect(ctx.Request().Context(), up.data)
	if err != nil {
		if detector.IsInputError(err) {
			return c.HandleError(ctx, err, "Unsupported or unreadable media", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Analysis failed", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, AnalyzeResponse{
		Result: result,
		Metadata: UploadMetadata{
			Filename:  up.filename,
			FileSize:  int64(len(up.data)),
			Timestamp: time.Now().UTC(),
		},
	})
}
