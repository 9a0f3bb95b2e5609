package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Routes served by the handler
const (
	RPCPath     = "/rpc"
	MetricsPath = "/metrics"
	HealthPath  = "/health"
)

// HealthReply is served on HealthPath
type HealthReply struct {
	Healthy bool   `json:"healthy"`
	Version uint64 `json:"version"`
}

// NewHandler routes the JSON-RPC service, the metrics of gatherer (when
// not nil) and a health check
func NewHandler(s *Service, gatherer prometheus.Gatherer) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(s, ServiceName); err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle(RPCPath, server).Methods(http.MethodPost)
	router.HandleFunc(HealthPath, s.health).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router, nil
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	reply := HealthReply{Healthy: true, Version: s.vm.Ledger().Version()}
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.logger.Warn("failed to write health reply", zap.Error(err))
	}
}
