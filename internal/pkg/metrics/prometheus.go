package metrics

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unknownType = "UNKNOWN"

// Prometheus exports notification counters labelled by type and outcome.
type Prometheus struct {
	registry  *prometheus.Registry
	processed *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "notifications_processed_total",
		Help:      "Provider notifications handled, by notification type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(processed)
	return &Prometheus{registry: reg, processed: processed}
}

func (p *Prometheus) NotificationProcessed(notificationType, outcome string) {
	if strings.TrimSpace(notificationType) == "" {
		notificationType = unknownType
	}
	p.processed.WithLabelValues(notificationType, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
