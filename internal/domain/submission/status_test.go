package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   Status
		expected string
	}{
		{
			name:     "submitted status",
			status:   StatusSubmitted,
			expected: "SUBMITTED",
		},
		{
			name:     "analysing status",
			status:   StatusAnalysing,
			expected: "ANALYSING",
		},
		{
			name:     "downloaded status",
			status:   StatusDownloaded,
			expected: "DOWNLOADED",
		},
		{
			name:     "failed status",
			status:   StatusFailed,
			expected: "FAILED",
		},
		{
			name:     "deleted status",
			status:   StatusDeleted,
			expected: "DELETED",
		},
		{
			name:     "unspecified status",
			status:   StatusUnspecified,
			expected: "UNSPECIFIED",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Status
	}{
		{name: "submitted", input: "SUBMITTED", expected: StatusSubmitted},
		{name: "analysing", input: "ANALYSING", expected: StatusAnalysing},
		{name: "downloaded", input: "DOWNLOADED", expected: StatusDownloaded},
		{name: "failed", input: "FAILED", expected: StatusFailed},
		{name: "deleted", input: "DELETED", expected: StatusDeleted},
		{name: "unknown value", input: "BOGUS", expected: StatusUnspecified},
		{name: "empty value", input: "", expected: StatusUnspecified},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseStatus(tt.input))
		})
	}
}

func TestStatus_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "submitted to analysing", from: StatusSubmitted, to: StatusAnalysing, wantErr: false},
		{name: "submitted to failed", from: StatusSubmitted, to: StatusFailed, wantErr: false},
		{name: "submitted to deleted", from: StatusSubmitted, to: StatusDeleted, wantErr: false},
		{name: "submitted to downloaded skips analysing", from: StatusSubmitted, to: StatusDownloaded, wantErr: true},
		{name: "analysing to downloaded", from: StatusAnalysing, to: StatusDownloaded, wantErr: false},
		{name: "analysing to failed", from: StatusAnalysing, to: StatusFailed, wantErr: false},
		{name: "analysing to deleted", from: StatusAnalysing, to: StatusDeleted, wantErr: false},
		{name: "analysing back to submitted", from: StatusAnalysing, to: StatusSubmitted, wantErr: true},
		{name: "downloaded to deleted", from: StatusDownloaded, to: StatusDeleted, wantErr: false},
		{name: "downloaded to failed", from: StatusDownloaded, to: StatusFailed, wantErr: true},
		{name: "failed to deleted", from: StatusFailed, to: StatusDeleted, wantErr: false},
		{name: "failed back to submitted", from: StatusFailed, to: StatusSubmitted, wantErr: true},
		{name: "failed to analysing", from: StatusFailed, to: StatusAnalysing, wantErr: true},
		{name: "deleted is terminal", from: StatusDeleted, to: StatusSubmitted, wantErr: true},
		{name: "deleted to failed", from: StatusDeleted, to: StatusFailed, wantErr: true},
		{name: "unspecified cannot move", from: StatusUnspecified, to: StatusSubmitted, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.from.validateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
