package metrics

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildforge/buildforge/pkg/application"
)

type PrometheusController struct{}

func NewPrometheusController() application.Controller {
	return &PrometheusController{}
}

func (c *PrometheusController) Key() string {
	return "/metrics"
}

func (c *PrometheusController) Register(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler())
}
