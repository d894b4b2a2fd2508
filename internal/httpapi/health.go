package httpapi

import "net/http"

// HealthCheck is consulted by the load balancer / Consul check.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
