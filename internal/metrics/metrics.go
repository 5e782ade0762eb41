// Package metrics 定义 Prometheus 指标，在 init 中注册并由 Handler 暴露。
//
//   - bintrader_gate_fires_total{strategy}          入场闸门触发次数
//   - bintrader_signals_total{strategy,direction}   信号评估结果
//   - bintrader_operations_total{result,kind}       单次下单结果（win|loss|draw|timeout）
//   - bintrader_series_total{outcome}               马丁序列结局
//   - bintrader_fallbacks_total{kind}               订单类型/资产切换
//   - bintrader_broker_reconnects_total             经纪商重连次数
//   - bintrader_broker_errors_total{op,kind}        经纪商调用错误分类
//   - bintrader_sessions{status}                    各状态会话数
//   - bintrader_session_profit{session_id}          会话累计盈亏
//   - bintrader_events_dropped_total                事件队列满时丢弃的事件
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GateFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_gate_fires_total",
			Help: "Entry gate triggers",
		},
		[]string{"strategy"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_signals_total",
			Help: "Signal evaluations by direction",
		},
		[]string{"strategy", "direction"},
	)

	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_operations_total",
			Help: "Order attempts by classified result",
		},
		[]string{"result", "kind"},
	)

	Series = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_series_total",
			Help: "Martingale series by outcome",
		},
		[]string{"outcome"},
	)

	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_fallbacks_total",
			Help: "Order type and asset fallbacks",
		},
		[]string{"kind"},
	)

	BrokerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bintrader_broker_reconnects_total",
			Help: "Broker reconnection attempts",
		},
	)

	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bintrader_broker_errors_total",
			Help: "Broker call failures by operation and kind",
		},
		[]string{"op", "kind"},
	)

	Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bintrader_sessions",
			Help: "Sessions by status",
		},
		[]string{"status"},
	)

	SessionProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bintrader_session_profit",
			Help: "Cumulative profit per session",
		},
		[]string{"session_id"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bintrader_events_dropped_total",
			Help: "Events dropped because the monitor queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(GateFires, Signals, Operations, Series, Fallbacks)
	prometheus.MustRegister(BrokerReconnects, BrokerErrors)
	prometheus.MustRegister(Sessions, SessionProfit, EventsDropped)
}

// Handler 返回 /metrics 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
