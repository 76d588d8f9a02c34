package metrics

import "time"

// RecordAPIRequest records one backend API request with its outcome.
func RecordAPIRequest(method, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, status).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAPIError records one backend API error by type.
func RecordAPIError(method, errorType string) {
	APIErrors.WithLabelValues(method, errorType).Inc()
}
