package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEvent(t *testing.T) {
	before := testutil.ToFloat64(EventsRecorded.WithLabelValues("view"))
	RecordEvent("view")
	assert.Equal(t, before+1, testutil.ToFloat64(EventsRecorded.WithLabelValues("view")))
}

func TestRecordRollup(t *testing.T) {
	tests := []struct {
		name   string
		late   int64
		err    error
		status string
	}{
		{name: "success with late arrivals", late: 3, status: "success"},
		{name: "failure", late: 5, err: errors.New("disk full"), status: "failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := testutil.ToFloat64(RollupRuns.WithLabelValues(tt.status))
			late := testutil.ToFloat64(RollupLateArrivals)

			RecordRollup(time.Second, tt.late, tt.err)

			assert.Equal(t, runs+1, testutil.ToFloat64(RollupRuns.WithLabelValues(tt.status)))
			if tt.err == nil {
				assert.Equal(t, late+float64(tt.late), testutil.ToFloat64(RollupLateArrivals))
			} else {
				assert.Equal(t, late, testutil.ToFloat64(RollupLateArrivals), "failed runs do not count late arrivals")
			}
		})
	}
}
