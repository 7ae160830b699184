package lavalink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"melodify/logger"
	"melodify/model"
)

// PreferenceAuto 表示不指定节点，由优先级列表自动选择
const PreferenceAuto = "auto"

// ErrNoNodeAvailable 当前没有任何在线节点。对调用方而言是可重试错误。
var ErrNoNodeAvailable = errors.New("no audio node available")

// Options 节点传输与选点的进程级配置
type Options struct {
	ReconnectTries    int
	ReconnectInterval time.Duration
	RESTTimeout       time.Duration
	NoNodeRetryWait   time.Duration
	InstanceID        string // 进程实例标识，握手时带给节点
}

// Registry 节点注册表：持有全部节点句柄、操作员指定的偏好节点与优先级
// 列表。节点状态读写都是短临界区，选点是无锁快照读。
type Registry struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	order      []string // 注册顺序（配置声明顺序）
	priority   []string
	preference string
	handler    EventHandler

	opts Options
}

// NewRegistry 根据节点配置构建注册表。priority 为选点时的可靠性排序。
func NewRegistry(cfgs []model.NodeConfig, priority []string, opts Options) *Registry {
	r := &Registry{
		nodes:      make(map[string]*Node, len(cfgs)),
		priority:   priority,
		preference: PreferenceAuto,
		opts:       opts,
	}
	for _, cfg := range cfgs {
		r.nodes[cfg.Name] = newNode(cfg, r)
		r.order = append(r.order, cfg.Name)
	}
	return r
}

// SetHandler 注册事件桥。必须在 Start 之前调用。
func (r *Registry) SetHandler(h EventHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Start 并发拉起所有节点连接。userID 是机器人在聊天平台的身份，
// 节点握手需要。
func (r *Registry) Start(ctx context.Context, userID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		r.nodes[name].start(ctx, userID)
	}
	logger.Info("node registry started", logger.Int("nodes", len(r.order)))
}

func (r *Registry) clientName() string {
	return fmt.Sprintf("melodify/1.0 (%s)", r.opts.InstanceID)
}

// Node 按名称取节点句柄（大小写不敏感），不存在返回 nil。
func (r *Registry) Node(name string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n, node := range r.nodes {
		if strings.EqualFold(n, name) {
			return node
		}
	}
	return nil
}

// NodeNames 全部节点名，按注册顺序
func (r *Registry) NodeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ListNodes 全部节点的状态快照，按注册顺序。纯读取，无副作用。
func (r *Registry) ListNodes() []model.NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.NodeStatus, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.nodes[name].Status())
	}
	return out
}

// OnlineCount 在线节点数
func (r *Registry) OnlineCount() (online, total int) {
	statuses := r.ListNodes()
	for _, s := range statuses {
		if s.Online {
			online++
		}
	}
	return online, len(statuses)
}

// ========== 节点偏好 ==========

// SetPreference 设置偏好节点。接受 "auto" 或任意已知节点名（大小写不
// 敏感）。返回目标当前是否在线，供调用方提示"已离线，将走兜底选点"。
func (r *Registry) SetPreference(name string) (online bool, err error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name == PreferenceAuto {
		r.mu.Lock()
		r.preference = PreferenceAuto
		r.mu.Unlock()
		online, _ := r.OnlineCount()
		return online > 0, nil
	}

	node := r.Node(name)
	if node == nil {
		return false, fmt.Errorf("unknown node: %s", name)
	}

	r.mu.Lock()
	r.preference = node.Name()
	r.mu.Unlock()
	logger.Info("node preference changed", logger.String("node", node.Name()))
	return node.Online(), nil
}

// Preference 当前偏好
func (r *Registry) Preference() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preference
}

// ========== 选点 ==========

// SelectNode 为下一次播放请求选择节点。规则按序：
//  1. 偏好节点非 auto 且在线，直接用它（操作员指定优先）；
//  2. 按优先级列表找第一个在线节点（可靠性排序优于任意选取）；
//  3. 按注册顺序找第一个在线节点；
//  4. 全部离线，返回 ErrNoNodeAvailable。
func (r *Registry) SelectNode() (*Node, error) {
	r.mu.RLock()
	preference := r.preference
	priority := r.priority
	order := r.order
	nodes := r.nodes
	r.mu.RUnlock()

	if preference != PreferenceAuto {
		if node, ok := nodes[preference]; ok && node.Online() {
			return node, nil
		}
		// 偏好节点离线时退回优先级选点，而不是直接失败
	}

	for _, name := range priority {
		if node, ok := nodes[name]; ok && node.Online() {
			return node, nil
		}
	}

	for _, name := range order {
		if node := nodes[name]; node.Online() {
			return node, nil
		}
	}

	return nil, ErrNoNodeAvailable
}

// SelectNodeWait 选点失败时等待一个重试窗口后再选一次。节点集群抖动
// （比如刚启动还在握手）的场景下给调用方一次机会，仍失败则把可重试
// 错误交给上层。
func (r *Registry) SelectNodeWait(ctx context.Context) (*Node, error) {
	node, err := r.SelectNode()
	if err == nil {
		return node, nil
	}

	logger.Warn("no node online, waiting before retry",
		logger.Duration("wait", r.opts.NoNodeRetryWait))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.opts.NoNodeRetryWait):
	}
	return r.SelectNode()
}

// ========== 事件分发 ==========

func (r *Registry) getHandler() EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

func (r *Registry) emitReady(name string) {
	if h := r.getHandler(); h != nil {
		h.OnNodeReady(name)
	}
}

func (r *Registry) emitError(name string, err error) {
	if h := r.getHandler(); h != nil {
		h.OnNodeError(name, err)
	}
}

func (r *Registry) emitClose(name string, code int, reason string) {
	if h := r.getHandler(); h != nil {
		h.OnNodeClose(name, code, reason)
	}
}

func (r *Registry) emitDisconnect(name, reason string) {
	if h := r.getHandler(); h != nil {
		h.OnNodeDisconnect(name, reason)
	}
}

func (r *Registry) emitReconnecting(name string, attempt, max int) {
	if h := r.getHandler(); h != nil {
		h.OnNodeReconnecting(name, attempt, max)
	}
}

func (r *Registry) emitTrackStart(node, guildID, encoded string) {
	if h := r.getHandler(); h != nil {
		h.OnTrackStart(node, guildID, encoded)
	}
}

func (r *Registry) emitTrackEnd(node, guildID, encoded, reason string) {
	if h := r.getHandler(); h != nil {
		h.OnTrackEnd(node, guildID, encoded, reason)
	}
}

func (r *Registry) emitTrackException(node, guildID, message string) {
	if h := r.getHandler(); h != nil {
		h.OnTrackException(node, guildID, message)
	}
}

func (r *Registry) emitWebSocketClosed(node, guildID string, code int, reason string) {
	if h := r.getHandler(); h != nil {
		h.OnWebSocketClosed(node, guildID, code, reason)
	}
}
