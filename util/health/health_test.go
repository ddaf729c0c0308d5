package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status int, message string, err error) func(context.Context, bool) (int, string, error) {
	return func(context.Context, bool) (int, string, error) {
		return status, message, err
	}
}

func TestCheckAll(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		status, msg, err := CheckAll(ctx, true, []Check{
			{Name: "a", Check: fixed(http.StatusOK, "fine", nil)},
			{Name: "b", Check: fixed(http.StatusOK, `{"status":200,"dependencies":[]}`, nil)},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)

		var r report
		require.NoError(t, json.Unmarshal([]byte(msg), &r))
		require.Len(t, r.Dependencies, 2)
		assert.Equal(t, "fine", r.Dependencies[0].Message)
		assert.JSONEq(t, `{"status":200,"dependencies":[]}`, string(r.Dependencies[1].Dependencies))
	})

	t.Run("one failing check", func(t *testing.T) {
		status, msg, err := CheckAll(ctx, false, []Check{
			{Name: "a", Check: fixed(http.StatusOK, "fine", nil)},
			{Name: "db", Check: fixed(http.StatusOK, "", errors.NewStorageUnavailableError("down"))},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Contains(t, msg, "down")
	})
}

func TestCheckHTTPServer(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	status, _, err := CheckHTTPServer(healthy.URL+"/", "/health")(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, _, err = CheckHTTPServer(healthy.URL, "missing")(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	healthy.Close()

	status, _, err = CheckHTTPServer(healthy.URL, "/health")(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
