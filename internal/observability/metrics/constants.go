// Package metrics provides the Prometheus collectors for the detection service
package metrics

import "time"

// Status label values
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
	StatusDegraded = "degraded"
)

// Histogram bucket configuration
const (
	// BucketStart1ms covers 1ms to ~1s with BucketCount10 factor-2 buckets
	BucketStart1ms = 0.001
	// BucketStart100ms covers 100ms to ~100s with BucketCount10 factor-2 buckets
	BucketStart100ms = 0.1
	BucketFactor2    = 2
	BucketCount10    = 10
)

// ShutdownTimeout bounds the graceful shutdown of the metrics listener
const ShutdownTimeout = 5 * time.Second

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

func labelName(deepfake bool) string {
	if deepfake {
		return "deepfake"
	}
	return "authentic"
}
