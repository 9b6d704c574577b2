package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(conflicts.WithLabelValues("overlap"))
	IncConflict("overlap")
	assert.Equal(t, before+1, testutil.ToFloat64(conflicts.WithLabelValues("overlap")))

	savedBefore := testutil.ToFloat64(bookingsSaved.WithLabelValues("recurrence"))
	IncSaved("recurrence", 5)
	assert.Equal(t, savedBefore+5, testutil.ToFloat64(bookingsSaved.WithLabelValues("recurrence")))

	assert.NotPanics(t, func() {
		IncHTTP("slots", "200")
		IncSync("completed")
	})
}

func TestHandler(t *testing.T) {
	Register()
	IncHTTP("bookings", "201")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "carecoop_http_requests_total"))
}
