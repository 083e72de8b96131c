package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var LockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sqlassist_checkpoint_lock_conflicts_total",
	Help: "Turns rejected because another turn held the session lock",
})
