package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"referral-bot/internal/utils"
)

// NewServer serves /metrics to clients inside allowedCIDRs.
func NewServer(addr string, allowedCIDRs []string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", utils.AllowCIDRs(allowedCIDRs, promhttp.Handler()))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
