package lib_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/pacsbatch/internal/lib"
)

func TestBatchError_Error(t *testing.T) {
	err := &lib.BatchError{
		Category: lib.CategorySession,
		Message:  "Association rejected",
		Cause:    errors.New("called AE title not recognized"),
	}

	result := err.Error()
	assert.Contains(t, result, "[SESSION]")
	assert.Contains(t, result, "Association rejected")
	assert.Contains(t, result, "called AE title not recognized")
}

func TestBatchError_UserMessage(t *testing.T) {
	err := lib.ErrSessionNotEstablished("ARCHIVE@pacs:104", 100, errors.New("connection refused"))

	msg := err.UserMessage()
	assert.Contains(t, msg, "✗ Error:")
	assert.Contains(t, msg, "after 100 attempts")
	assert.Contains(t, msg, "How to fix:")
	assert.Contains(t, msg, "1. Check that the peer is running and reachable")
	assert.Contains(t, msg, "Technical details: connection refused")
}

func TestBatchError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := lib.ErrIngestIO("/out/tmp/x.dcm", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("placing: %w", err), cause)
}

func TestCategoriesAndFatality(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category lib.ErrorCategory
		fatal    bool
	}{
		{"config", lib.ErrConfig("request.kind", "unknown kind"), lib.CategoryConfiguration, true},
		{"variation table missing", lib.ErrVariationTableMissing("rows.csv"), lib.CategoryConfiguration, true},
		{"unresolvable path", lib.ErrUnresolvablePath("Nope", nil), lib.CategoryConfiguration, true},
		{"session", lib.ErrSessionNotEstablished("peer", 3, nil), lib.CategorySession, true},
		{"operation", lib.ErrOperationFailed("query", "0xA700"), lib.CategoryOperation, false},
		{"ingest decode", lib.ErrIngestDecode(errors.New("bad")), lib.CategoryIngestDecode, false},
		{"ingest io", lib.ErrIngestIO("/x", errors.New("bad")), lib.CategoryIngestIO, false},
		{"tool", lib.ErrExternalToolMissing("Java runtime", "java"), lib.CategoryExternalTool, false},
		{"locked", lib.ErrOutputLocked("/out"), lib.CategoryState, true},
		{"corrupted", lib.ErrCorruptedLedger("/out/requests.whole", nil), lib.CategoryState, true},
		{"wrapped state", lib.WrapError(lib.CategoryState, "write failed", nil), lib.CategoryState, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, lib.IsCategory(tt.err, tt.category))
			assert.Equal(t, tt.fatal, lib.IsFatal(tt.err))
		})
	}

	assert.True(t, lib.IsFatal(errors.New("plain")), "unknown errors abort the run")
	assert.False(t, lib.IsFatal(nil))
	assert.False(t, lib.IsCategory(errors.New("plain"), lib.CategoryState))
}
