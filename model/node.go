package model

import "encoding/json"

// NodeConfig 音频节点的静态配置，启动时加载，之后只读。
type NodeConfig struct {
	Name     string `json:"name"`     // 唯一标识
	Address  string `json:"address"`  // host:port
	Password string `json:"password"` // 节点鉴权口令
	Secure   bool   `json:"secure"`   // 是否使用 wss/https
}

// NodeState 节点传输层连接状态
type NodeState int

const (
	StateConnecting NodeState = iota
	StateNearlyReady
	StateReady
	StateReconnecting
	StateDisconnecting
	StateDisconnected
)

func (s NodeState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNearlyReady:
		return "nearly-ready"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalJSON 诊断输出用状态名而不是数值
func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// NodeStats 节点周期性上报的负载快照
type NodeStats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"` // 毫秒
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
}

// MemoryStats 节点内存占用
type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPUStats 节点CPU占用
type CPUStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// NodeStatus 供诊断与选点读取的节点状态快照。
// Stats 为 nil 表示节点尚未上报过负载，调用方按零负载处理。
type NodeStatus struct {
	Name   string     `json:"name"`
	State  NodeState  `json:"state"`
	Online bool       `json:"online"` // state == StateReady
	Stats  *NodeStats `json:"stats,omitempty"`
}

// VoiceUpdate 语音网关凭据，由聊天平台层转交给音频节点。
type VoiceUpdate struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}
