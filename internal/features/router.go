package features

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// Router sniffs the content type and hands data to the image or video extractor
type Router struct {
	images Extractor
	videos Extractor
}

// NewRouter builds a router. A nil videos extractor rejects all video input.
func NewRouter(images, videos Extractor) *Router {
	return &Router{images: images, videos: videos}
}

var imageTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Extract implements Extractor
func (r *Router) Extract(ctx context.Context, data []byte) (Vector, *Diagnostics, error) {
	if len(data) == 0 {
		return nil, nil, corrupt("unknown", errors.NewStd("empty upload"))
	}

	mtype := mimetype.Detect(data)
	switch {
	case mimetype.EqualsAny(mtype.String(), imageTypes...):
		return r.images.Extract(ctx, data)
	case isVideo(mtype):
		if r.videos == nil {
			return nil, nil, unsupported(mtype.String(), "video support is disabled")
		}
		vec, diag, err := r.videos.Extract(ctx, data)
		if diag != nil {
			diag.MediaType = mtype.String()
		}
		return vec, diag, err
	default:
		return nil, nil, unsupported(mtype.String(), "not an image or video")
	}
}

func isVideo(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
