package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()

	IncHTTP("/trigger-daily-sync")
	IncJob("brand-alpha", "completed")
	AddRows("orders", 100)

	assert.Equal(t, float64(100), testutil.ToFloat64(rowsInserted.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(jobEvents.WithLabelValues("brand-alpha", "completed")))
}
