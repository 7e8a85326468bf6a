package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker is one named dependency probe (state store ping, config store
// ping, and so on).
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Timeout  time.Duration
	Critical bool
}

// HealthReport is the JSON body returned by the /healthz handler.
type HealthReport struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is one checker's outcome.
type CheckResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// HealthHandler runs every checker and reports healthy (200) unless a
// critical checker failed (503).
func HealthHandler(checkers []Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{Status: "healthy", Checks: make(map[string]CheckResult, len(checkers))}

		for _, c := range checkers {
			timeout := c.Timeout
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Check(ctx)
			cancel()

			if err != nil {
				report.Checks[c.Name] = CheckResult{OK: false, Message: err.Error()}
				if c.Critical {
					report.Status = "unhealthy"
				}
			} else {
				report.Checks[c.Name] = CheckResult{OK: true}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
