package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网关指标。所有方法对 nil 接收者安全，未启用指标时直接传 nil。
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.ConnectionOpened()
//	m.DispatchedInc("ok")
type Metrics struct {
	// Connections 当前 websocket 连接数
	Connections prometheus.Gauge
	// OnlineUsers 当前在线用户数（Presence 中连接数 > 0 的用户）
	OnlineUsers prometheus.Gauge
	// HandshakeRejected 握手被拒次数。Labels: reason (unauthenticated|error)
	HandshakeRejected *prometheus.CounterVec
	// Published 投递到连接的帧数。Labels: target (personal|role|custom|broadcast)
	Published *prometheus.CounterVec
	// Dropped 因发送缓冲区满被丢弃的投递次数
	Dropped prometheus.Counter
	// Dispatched 发消息结果。Labels: result (ok|forbidden|invalid|persistence)
	Dispatched *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New 在给定 registerer 上注册指标。reg 为 nil 时使用默认注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_rt_connections",
			Help: "Number of open websocket connections",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_rt_online_users",
			Help: "Number of users with at least one open connection",
		}),
		HandshakeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_rt_handshake_rejected_total",
			Help: "Websocket handshakes rejected by reason",
		}, []string{"reason"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_rt_published_total",
			Help: "Frames delivered to connections by channel kind",
		}, []string{"target"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "clinic_rt_dropped_total",
			Help: "Deliveries dropped because a connection send buffer was full",
		}),
		Dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_rt_dispatched_total",
			Help: "Send message attempts by result",
		}, []string{"result"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) HandshakeRejectedInc(reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejected.WithLabelValues(reason).Inc()
}

// Delivered 记录一次发布的投递结果
func (m *Metrics) Delivered(target string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.Published.WithLabelValues(target).Add(float64(delivered))
	}
	if dropped > 0 {
		m.Dropped.Add(float64(dropped))
	}
}

func (m *Metrics) DispatchedInc(result string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(result).Inc()
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
