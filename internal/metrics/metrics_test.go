package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := New()
	c.Commit("ok")
	c.Commit("ok")
	c.Registration(RegistrationConflictRetry)
	c.SourceFailure("video")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.registrations.WithLabelValues(RegistrationConflictRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sourceFailures.WithLabelValues("video")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.Commit("ok")
	c.Registration(RegistrationCreate)
	c.SourceFailure("text")
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Commit("ok")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `parley_commits_total{status="ok"} 1`)
}
