package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_LabelsWithRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	router.Use(Middleware)

	// Two different ids must land on the same label value.
	for _, id := range []string{"abc", "def"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/widgets/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	templated := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/widgets/{id}", "200"))
	assert.Equal(t, float64(2), templated)

	raw := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/widgets/abc", "200"))
	assert.Zero(t, raw)
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")
	router.Use(Middleware)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/teapot", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/teapot", "418"))
	assert.Equal(t, float64(1), count)
}
