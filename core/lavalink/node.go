package lavalink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"melodify/model"
)

// ErrNodeNotReady 节点未就绪时发出控制指令
var ErrNodeNotReady = errors.New("node is not ready")

// Node 一个音频节点的连接句柄：持有传输连接、连接状态与最近一次负载快照。
// 状态只由传输回调修改，选点与诊断按需懒读。生命周期与进程一致。
type Node struct {
	cfg      model.NodeConfig
	registry *Registry

	mu        sync.Mutex
	state     model.NodeState
	stats     *model.NodeStats
	conn      *websocket.Conn
	sessionID string // 节点在 ready 时分配的会话标识，REST 路径依赖它

	httpClient *http.Client
	userID     string
}

func newNode(cfg model.NodeConfig, r *Registry) *Node {
	return &Node{
		cfg:      cfg,
		registry: r,
		state:    model.StateDisconnected,
		httpClient: &http.Client{
			Timeout: r.opts.RESTTimeout,
		},
	}
}

// Name 节点名
func (n *Node) Name() string {
	return n.cfg.Name
}

// Online 节点是否在线（连接完全建立）。其余状态对选点一律视为离线，
// 但原始状态保留给诊断输出。
func (n *Node) Online() bool {
	return n.State() == model.StateReady
}

// State 当前连接状态
func (n *Node) State() model.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Stats 最近一次负载快照，可能为 nil（节点从未上报）。
func (n *Node) Stats() *model.NodeStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Status 组合状态快照
func (n *Node) Status() model.NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return model.NodeStatus{
		Name:   n.cfg.Name,
		State:  n.state,
		Online: n.state == model.StateReady,
		Stats:  n.stats,
	}
}

func (n *Node) setState(s model.NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

func (n *Node) setStats(stats *model.NodeStats) {
	n.mu.Lock()
	n.stats = stats
	n.mu.Unlock()
}

// snapshot 返回 REST 调用需要的连接参数，未就绪时报错。
func (n *Node) snapshot() (sessionID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != model.StateReady || n.sessionID == "" {
		return "", fmt.Errorf("%w: %s (%s)", ErrNodeNotReady, n.cfg.Name, n.state)
	}
	return n.sessionID, nil
}

// ========== 播放器控制指令 ==========

// Play 在指定 guild 的播放器上播放曲目
func (n *Node) Play(ctx context.Context, guildID string, track model.Track) error {
	encoded := track.Encoded
	return n.updatePlayer(ctx, guildID, playerUpdate{
		Track: &playerTrack{Encoded: &encoded},
	}, false)
}

// Stop 停止当前曲目（节点会回报 reason=stopped 的结束事件）
func (n *Node) Stop(ctx context.Context, guildID string) error {
	return n.updatePlayer(ctx, guildID, playerUpdate{
		Track: &playerTrack{Encoded: nil},
	}, false)
}

// Pause 暂停/恢复
func (n *Node) Pause(ctx context.Context, guildID string, paused bool) error {
	return n.updatePlayer(ctx, guildID, playerUpdate{Paused: &paused}, true)
}

// SetVolume 设置音量。范围校验在会话层完成，这里原样下发。
func (n *Node) SetVolume(ctx context.Context, guildID string, volume int) error {
	return n.updatePlayer(ctx, guildID, playerUpdate{Volume: &volume}, true)
}

// SetFilters 下发滤波器配置（均衡器、变速等），内容对本层不透明。
func (n *Node) SetFilters(ctx context.Context, guildID string, filters json.RawMessage) error {
	return n.updatePlayer(ctx, guildID, playerUpdate{Filters: filters}, true)
}

// UpdateVoice 转交语音网关凭据
func (n *Node) UpdateVoice(ctx context.Context, guildID string, voice model.VoiceUpdate) error {
	return n.updatePlayer(ctx, guildID, playerUpdate{Voice: &voice}, true)
}
