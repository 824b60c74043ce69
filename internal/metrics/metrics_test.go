package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncTransition("cancelled", "operator")
		IncNotification("sent")
	})

	before := testutil.ToFloat64(reservations.WithLabelValues("ok"))
	IncReservation("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(reservations.WithLabelValues("ok")))
}
