package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextHourBoundary(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid-hour rounds up to next hour",
			now:  time.Date(2026, 8, 2, 14, 37, 12, 0, time.UTC),
			want: time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "exact hour still advances one hour",
			now:  time.Date(2026, 8, 2, 14, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextHourBoundary(tc.now))
		})
	}
}
