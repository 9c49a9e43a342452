package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

// Registry holds every collector the process exposes at /metrics.
var Registry = prometheus.NewRegistry()

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threetick_cycles_total",
			Help: "Trading cycles by outcome",
		},
		[]string{"outcome"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threetick_orders_total",
			Help: "Logical order submissions by kind and result",
		},
		[]string{"kind", "result"}, // result: accepted|failed
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threetick_signals_total",
			Help: "Signals evaluated",
		},
		[]string{"signal"},
	)

	freeBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threetick_free_balance",
		Help: "Last observed free collateral",
	})

	positionOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threetick_position_open",
		Help: "1 while a position is open on the instrument",
	})

	stopLossRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threetick_stop_loss_rate",
		Help: "Stop-loss distance used for the latest bracket",
	})

	lastHeartbeat = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threetick_last_heartbeat_seconds",
		Help: "Unix time of the latest loop heartbeat",
	})
)

func init() {
	Registry.MustRegister(cyclesTotal, ordersTotal, signalsTotal)
	Registry.MustRegister(freeBalance, positionOpen, stopLossRate, lastHeartbeat)
	Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func RecordCycle(outcome string) { cyclesTotal.WithLabelValues(outcome).Inc() }

func RecordOrder(kind, result string) { ordersTotal.WithLabelValues(kind, result).Inc() }

func RecordSignal(signal string) { signalsTotal.WithLabelValues(signal).Inc() }

func SetFreeBalance(v decimal.Decimal) { freeBalance.Set(v.InexactFloat64()) }

func SetStopLossRate(v decimal.Decimal) { stopLossRate.Set(v.InexactFloat64()) }

// SetPositionOpen flips the position gauge.
func SetPositionOpen(open bool) {
	if open {
		positionOpen.Set(1)
		return
	}
	positionOpen.Set(0)
}

func MarkHeartbeat(at time.Time) { lastHeartbeat.Set(float64(at.Unix())) }
