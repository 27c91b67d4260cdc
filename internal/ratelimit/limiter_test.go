package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowFor_AlignsToBoundaryHour(t *testing.T) {
	tests := []struct {
		name         string
		now          time.Time
		boundaryHour int
		wantStart    time.Time
	}{
		{
			name:         "midnight boundary, mid-day",
			now:          time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC),
			boundaryHour: 0,
			wantStart:    time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:         "before boundary hour falls into previous window",
			now:          time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC),
			boundaryHour: 4,
			wantStart:    time.Date(2025, 6, 9, 4, 0, 0, 0, time.UTC),
		},
		{
			name:         "exactly at boundary starts a new window",
			now:          time.Date(2025, 6, 10, 4, 0, 0, 0, time.UTC),
			boundaryHour: 4,
			wantStart:    time.Date(2025, 6, 10, 4, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := WindowFor(tt.now, tt.boundaryHour)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantStart.Add(24*time.Hour), end)
			assert.False(t, tt.now.Before(start))
			assert.True(t, tt.now.Before(end))
		})
	}
}
