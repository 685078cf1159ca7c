package registry

import "sync/atomic"

type MetricsSnapshot struct {
	PluginConnections int64
	AdminConnections  int64
	PluginSessions    int64
	AdminSessions     int64
}

// Metrics holds live gauges and lifetime counters per role.
type Metrics struct {
	pluginLive  atomic.Int64
	adminLive   atomic.Int64
	pluginTotal atomic.Int64
	adminTotal  atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordRegister(role Role) {
	switch role {
	case RolePlugin:
		m.pluginLive.Add(1)
		m.pluginTotal.Add(1)
	case RoleAdmin:
		m.adminLive.Add(1)
		m.adminTotal.Add(1)
	}
}

func (m *Metrics) recordUnregister(role Role) {
	switch role {
	case RolePlugin:
		m.pluginLive.Add(-1)
	case RoleAdmin:
		m.adminLive.Add(-1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		PluginConnections: m.pluginLive.Load(),
		AdminConnections:  m.adminLive.Load(),
		PluginSessions:    m.pluginTotal.Load(),
		AdminSessions:     m.adminTotal.Load(),
	}
}
