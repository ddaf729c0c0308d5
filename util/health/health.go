// Package health combines the health checks of several dependencies into one JSON report.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Check is a named dependency check, returning an http status, a message and an error.
type Check struct {
	Name  string
	Check func(ctx context.Context, checkLiveness bool) (int, string, error)
}

type dependency struct {
	Resource     string              `json:"resource"`
	Status       int                 `json:"status"`
	Error        string              `json:"error,omitempty"`
	Message      string              `json:"message,omitempty"`
	Dependencies jsoniter.RawMessage `json:"dependencies,omitempty"`
}

type report struct {
	Status       int          `json:"status"`
	Dependencies []dependency `json:"dependencies"`
}

// CheckAll runs every check. The overall status is 200 when every check reported 200 without an
// error, and 503 otherwise. A check whose message is a JSON report itself is nested.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	r := report{
		Status:       http.StatusOK,
		Dependencies: make([]dependency, 0, len(checks)),
	}

	for _, check := range checks {
		status, message, err := check.Check(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			r.Status = http.StatusServiceUnavailable
		}

		d := dependency{
			Resource: check.Name,
			Status:   status,
		}

		if err != nil {
			d.Error = err.Error()
		}

		if json.Valid([]byte(message)) && len(message) > 0 && message[0] == '{' {
			d.Dependencies = jsoniter.RawMessage(message)
		} else {
			d.Message = message
		}

		r.Dependencies = append(r.Dependencies, d)
	}

	out, err := json.Marshal(r)
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return r.Status, string(out), nil
}
