package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CheckHTTPServer checks a running server by calling its health endpoint. Any 2xx answer is
// healthy.
func CheckHTTPServer(address string, healthPath string) func(context.Context, bool) (int, string, error) {
	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	url := strings.TrimSuffix(address, "/") + "/" + strings.TrimPrefix(healthPath, "/")

	return func(ctx context.Context, _ bool) (int, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return http.StatusServiceUnavailable, fmt.Sprintf("invalid health url %s", url), err
		}

		resp, err := client.Do(req)
		if err != nil {
			return http.StatusServiceUnavailable, fmt.Sprintf("%s is not accepting connections", address), err
		}

		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return http.StatusServiceUnavailable, fmt.Sprintf("%s answered %d", url, resp.StatusCode), nil
		}

		return http.StatusOK, fmt.Sprintf("%s is healthy", address), nil
	}
}
