package shardroute

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

type metrics struct {
	routes *prometheus.CounterVec
	units  prometheus.Histogram
}

// newMetrics registers the route metrics on reg; a nil reg disables them.
// Collectors already registered by another plugin instance are reused.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shardroute",
			Name:      "routes_total",
			Help:      "Routed statements by category and routing engine.",
		}, []string{"category", "engine"}),
		units: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shardroute",
			Name:      "route_units",
			Help:      "Routing units per statement.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
	}
	if err := reg.Register(m.routes); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			return nil, errors.Wrap(err, "register routes_total")
		}
		m.routes = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.units); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			return nil, errors.Wrap(err, "register route_units")
		}
		m.units = are.ExistingCollector.(prometheus.Histogram)
	}
	return m, nil
}

func (m *metrics) observe(category statement.Category, res *route.RoutingResult) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(category.String(), res.Engine.String()).Inc()
	m.units.Observe(float64(len(res.Units)))
}
