package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/example/protocol"
)

type clientInfo struct {
	ID         uint32 `json:"id"`
	RemoteAddr string `json:"remote_addr"`
	Connected  bool   `json:"connected"`
}

// newAdminRouter serves health, the client registry and Prometheus metrics.
func newAdminRouter(server *msgnet.Server[protocol.MsgType], gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if server.Addr() == nil {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/clients", func(w http.ResponseWriter, _ *http.Request) {
		conns := server.Connections()
		clients := make([]clientInfo, 0, len(conns))
		for _, c := range conns {
			info := clientInfo{ID: c.ID(), Connected: c.IsConnected()}
			if addr := c.RemoteAddr(); addr != nil {
				info.RemoteAddr = addr.String()
			}
			clients = append(clients, info)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(clients)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
