// Package metrics 提供 Prometheus 指标
//
// Metrics 持有私有 Registry，不污染全局默认注册表。
// 所有记录方法对 nil 接收者安全，禁用指标时组件无需判空。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	invitesIssued   prometheus.Counter
	invitesAccepted prometheus.Counter
	invitesRejected *prometheus.CounterVec

	signalsSent       *prometheus.CounterVec
	signalsDispatched *prometheus.CounterVec
	signalsDropped    *prometheus.CounterVec

	connTransitions *prometheus.CounterVec
	connActive      prometheus.Gauge

	heartbeats   prometheus.Counter
	peersOnline  prometheus.Gauge
	bytesSent    prometheus.Counter
	bytesRecv    prometheus.Counter
	relayClients prometheus.Gauge
}

// New 创建指标集合
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{registry: reg}

	m.invitesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "invite", Name: "issued_total",
		Help: "Invites generated by this identity.",
	})
	m.invitesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "invite", Name: "accepted_total",
		Help: "Invites accepted successfully.",
	})
	m.invitesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "invite", Name: "rejected_total",
		Help: "Invite operations rejected, by reason.",
	}, []string{"reason"})

	m.signalsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "signaling", Name: "sent_total",
		Help: "Signals written to peer mailboxes.",
	}, []string{"type"})
	m.signalsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "signaling", Name: "dispatched_total",
		Help: "Signals delivered to the local handler.",
	}, []string{"type"})
	m.signalsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "signaling", Name: "dropped_total",
		Help: "Signals discarded, by reason.",
	}, []string{"reason"})

	m.connTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "connection", Name: "transitions_total",
		Help: "Connection state transitions, by target state.",
	}, []string{"state"})
	m.connActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "connection", Name: "active",
		Help: "Connections currently in CONNECTED state.",
	})

	m.heartbeats = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "presence", Name: "heartbeats_total",
		Help: "Presence heartbeats published.",
	})
	m.peersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "presence", Name: "peers_online",
		Help: "Trusted peers currently considered online.",
	})

	m.bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "datachannel", Name: "sent_bytes_total",
		Help: "Bytes written to data channels.",
	})
	m.bytesRecv = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "datachannel", Name: "received_bytes_total",
		Help: "Bytes read from data channels.",
	})

	m.relayClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "relay", Name: "clients",
		Help: "Websocket clients connected to the relay store.",
	})

	f(m.invitesIssued)
	f(m.invitesAccepted)
	f(m.invitesRejected)
	f(m.signalsSent)
	f(m.signalsDispatched)
	f(m.signalsDropped)
	f(m.connTransitions)
	f(m.connActive)
	f(m.heartbeats)
	f(m.peersOnline)
	f(m.bytesSent)
	f(m.bytesRecv)
	f(m.relayClients)
	f(collectors.NewGoCollector())
	f(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry 返回私有注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InviteIssued 记录邀请签发
func (m *Metrics) InviteIssued() {
	if m == nil {
		return
	}
	m.invitesIssued.Inc()
}

// InviteAccepted 记录邀请接受成功
func (m *Metrics) InviteAccepted() {
	if m == nil {
		return
	}
	m.invitesAccepted.Inc()
}

// InviteRejected 记录邀请操作被拒绝
func (m *Metrics) InviteRejected(reason string) {
	if m == nil {
		return
	}
	m.invitesRejected.WithLabelValues(reason).Inc()
}

// SignalSent 记录信令发送
func (m *Metrics) SignalSent(signalType string) {
	if m == nil {
		return
	}
	m.signalsSent.WithLabelValues(signalType).Inc()
}

// SignalDispatched 记录信令分发
func (m *Metrics) SignalDispatched(signalType string) {
	if m == nil {
		return
	}
	m.signalsDispatched.WithLabelValues(signalType).Inc()
}

// SignalDropped 记录信令丢弃
func (m *Metrics) SignalDropped(reason string) {
	if m == nil {
		return
	}
	m.signalsDropped.WithLabelValues(reason).Inc()
}

// ConnTransition 记录连接状态迁移
func (m *Metrics) ConnTransition(state string) {
	if m == nil {
		return
	}
	m.connTransitions.WithLabelValues(state).Inc()
}

// SetActiveConns 设置已连接数
func (m *Metrics) SetActiveConns(n int) {
	if m == nil {
		return
	}
	m.connActive.Set(float64(n))
}

// Heartbeat 记录心跳发布
func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// SetPeersOnline 设置在线对端数
func (m *Metrics) SetPeersOnline(n int) {
	if m == nil {
		return
	}
	m.peersOnline.Set(float64(n))
}

// LogSent 记录数据通道发送字节
func (m *Metrics) LogSent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
}

// LogRecv 记录数据通道接收字节
func (m *Metrics) LogRecv(n int) {
	if m == nil {
		return
	}
	m.bytesRecv.Add(float64(n))
}

// SetRelayClients 设置中继客户端数
func (m *Metrics) SetRelayClients(n int) {
	if m == nil {
		return
	}
	m.relayClients.Set(float64(n))
}
