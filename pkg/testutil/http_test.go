package testutil_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"merenda/pkg/testutil"
)

func jsonHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":2,"succeeded":1}`))
	})
}

func TestReadBodyIsRepeatable(t *testing.T) {
	req := testutil.NewRequest(t, http.MethodGet, "/")
	rr := testutil.DoRequest(jsonHandler(), req)

	first := testutil.ReadBody(t, rr)
	second := testutil.ReadBody(t, rr)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, second)
}

func TestAssertJSONContainsTwiceOnSameRecorder(t *testing.T) {
	req := testutil.NewRequest(t, http.MethodGet, "/")
	rr := testutil.DoRequest(jsonHandler(), req)

	testutil.AssertJSONContains(t, rr, "total", float64(2))
	testutil.AssertJSONContains(t, rr, "succeeded", float64(1))
}
