package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu     sync.Mutex
	errors []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ee)
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestBuildFastPathWithoutTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	err := New(fmt.Errorf("boom")).Category(CategoryTraining).Build()

	assert.Equal(t, ComponentUnknown, err.GetComponent())
	assert.Equal(t, CategoryTraining, err.Category)
	assert.False(t, err.Timestamp.IsZero())
}

func TestBuildReportsWhenReporterInstalled(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	err := New(fmt.Errorf("disk gone")).
		Component("samplestore").
		Category(CategoryPersistenceDegraded).
		Context("sample_id", uint64(7)).
		Build()

	require.Len(t, rec.errors, 1)
	assert.Same(t, err, rec.errors[0])
	assert.Equal(t, uint64(7), err.GetContext()["sample_id"])
}

func TestCategoryHelpers(t *testing.T) {
	base := NewStd("not enough samples")
	err := New(base).Category(CategoryInsufficientData).Build()
	wrapped := fmt.Errorf("retrain: %w", err)

	assert.True(t, IsCategory(wrapped, CategoryInsufficientData))
	assert.False(t, IsCategory(wrapped, CategoryTraining))
	assert.Equal(t, CategoryInsufficientData, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(base))
	assert.True(t, Is(wrapped, base))
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	a := New(NewStd("a")).Category(CategoryRetrainConflict).Build()
	b := New(NewStd("b")).Category(CategoryRetrainConflict).Build()
	c := New(NewStd("c")).Category(CategoryTraining).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestDetectCategoryFromMessage(t *testing.T) {
	assert.Equal(t, CategoryTimeout, detectCategory(NewStd("context deadline exceeded")))
	assert.Equal(t, CategoryValidation, detectCategory(NewStd("invalid label")))
	assert.Equal(t, CategoryGeneric, detectCategory(NewStd("something")))
}

func TestScrubMessageForPrivacy(t *testing.T) {
	msg := scrubMessageForPrivacy("upload to https://minio.local:9000/bucket?x=1 failed, token=abc123")

	assert.NotContains(t, msg, "minio.local")
	assert.NotContains(t, msg, "abc123")
	assert.Contains(t, msg, "https://[REDACTED]")
	assert.Contains(t, msg, "token=[REDACTED]")
}

func TestPriorityNormalisesUnknownValues(t *testing.T) {
	err := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, err.Priority)
}
