package permission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlassist_permission_denied_total",
		Help: "Statements rejected because they reference tables outside the user's access",
	})

	ScopedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlassist_permission_scoped_tables_total",
		Help: "Table references wrapped with a department filter",
	})

	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlassist_permission_parse_errors_total",
		Help: "Statements that could not be resolved for permission checks",
	})

	StoreCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlassist_permission_store_cache_hits_total",
		Help: "Permission store lookups served from cache",
	}, []string{"kind"})
)
