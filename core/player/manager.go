package player

import (
	"context"
	"sync"
	"time"

	"melodify/logger"
	"melodify/model"
)

// NodeSource 管理器建会话与掉线迁移时的选点入口。
// 由接线层适配节点注册表实现。
type NodeSource interface {
	Select(ctx context.Context) (NodeClient, error)
}

// Config 管理器行为参数
type Config struct {
	DefaultVolume    int
	IdleTimeout      time.Duration
	AutoSkipDelay    time.Duration
	MoveOnDisconnect bool // 绑定节点失联时迁移会话而非销毁
}

// Manager 会话注册表兼事件桥：按 guild 管理会话生命周期，把节点事件
// 按 guildID 路由到对应会话，把会话通知汇聚成一条队列交给聊天层。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	source NodeSource
	cfg    Config

	notifications chan Notification
}

// NewManager 创建管理器。通知队列带缓冲，聊天层消费慢时丢弃并告警，
// 绝不反压会话锁。
func NewManager(source NodeSource, cfg Config) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		source:        source,
		cfg:           cfg,
		notifications: make(chan Notification, 64),
	}
}

// Notifications 聊天层消费的通知队列
func (m *Manager) Notifications() <-chan Notification {
	return m.notifications
}

// Session 按 guild 取会话，没有则返回 nil
func (m *Manager) Session(guildID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[guildID]
}

// SessionCount 活跃会话数
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ========== 播放入口 ==========

// PlayRequest 一次播放请求：目标 guild、回显频道、语音频道与解析好的曲目
type PlayRequest struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	Tracks         []model.Track
	PlaylistName   string
}

// PlayResult 播放请求的结果
type PlayResult struct {
	Started  bool // 是否立即开始播放（而非排队）
	Track    *model.Track
	Position int    // 排队时的队列位置（1 起）
	Count    int    // 本次入队曲目数
	Node     string // 会话绑定的节点
}

// Play 处理播放请求。guild 无会话时选节点建会话并绑定，有会话则复用
// 其节点入队。选点失败的可重试错误原样上抛，由聊天层提示稍后再试。
func (m *Manager) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if len(req.Tracks) == 0 {
		return nil, ErrNothingPlaying
	}

	sess, err := m.ensureSession(ctx, req)
	if err != nil {
		return nil, err
	}

	started, position, err := sess.Enqueue(ctx, req.Tracks...)
	if err != nil {
		return nil, err
	}

	res := &PlayResult{
		Started:  started,
		Position: position,
		Count:    len(req.Tracks),
		Node:     sess.NodeName(),
	}
	t := req.Tracks[0]
	res.Track = &t
	return res, nil
}

// ensureSession 取既有会话，没有则选点建会话。建会话与注册在管理器锁
// 内完成，避免同 guild 并发建出两个会话。
func (m *Manager) ensureSession(ctx context.Context, req PlayRequest) (*Session, error) {
	if sess := m.Session(req.GuildID); sess != nil {
		return sess, nil
	}

	node, err := m.source.Select(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[req.GuildID]; ok {
		return sess, nil
	}

	sess := NewSession(req.GuildID, req.TextChannelID, req.VoiceChannelID, node,
		SessionConfig{
			DefaultVolume: m.cfg.DefaultVolume,
			IdleTimeout:   m.cfg.IdleTimeout,
			AutoSkipDelay: m.cfg.AutoSkipDelay,
		},
		m.emit, m.remove)
	m.sessions[req.GuildID] = sess

	logger.Info("session created",
		logger.String("guild", req.GuildID),
		logger.String("node", node.Name()))
	return sess, nil
}

// remove 会话销毁回调。会话自己持锁时触发，这里只动管理器的表。
func (m *Manager) remove(guildID string) {
	m.mu.Lock()
	delete(m.sessions, guildID)
	m.mu.Unlock()
}

// emit 通知入队。队列满则丢弃：通知是尽力而为的回显，不值得阻塞播放。
func (m *Manager) emit(n Notification) {
	select {
	case m.notifications <- n:
	default:
		logger.Warn("notification queue full, dropping",
			logger.String("guild", n.GuildID),
			logger.String("kind", string(n.Kind)))
	}
}

// ========== 按 guild 的命令转发 ==========

// Skip 跳到下一首
func (m *Manager) Skip(ctx context.Context, guildID string) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.Skip(ctx)
}

// Stop 停止播放并销毁会话
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.Stop(ctx)
}

// Pause 暂停或恢复
func (m *Manager) Pause(ctx context.Context, guildID string, paused bool) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.Pause(ctx, paused)
}

// SetVolume 设置音量
func (m *Manager) SetVolume(ctx context.Context, guildID string, volume int) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.SetVolume(ctx, volume)
}

// SetLoop 设置循环模式
func (m *Manager) SetLoop(guildID string, mode model.LoopMode) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.SetLoop(mode)
}

// Shuffle 打乱队列
func (m *Manager) Shuffle(guildID string) error {
	sess := m.Session(guildID)
	if sess == nil {
		return ErrNoSession
	}
	return sess.Shuffle()
}

// Remove 移除队列中指定位置的曲目
func (m *Manager) Remove(guildID string, index int) (model.Track, error) {
	sess := m.Session(guildID)
	if sess == nil {
		return model.Track{}, ErrNoSession
	}
	return sess.Remove(index)
}

// ========== 语音凭据转发 ==========

// UpdateVoiceServer 聊天平台的语音服务器更新
func (m *Manager) UpdateVoiceServer(guildID, token, endpoint string) {
	if sess := m.Session(guildID); sess != nil {
		sess.UpdateVoiceServer(token, endpoint)
	}
}

// UpdateVoiceState 聊天平台的语音状态更新
func (m *Manager) UpdateVoiceState(guildID, sessionID string) {
	if sess := m.Session(guildID); sess != nil {
		sess.UpdateVoiceState(sessionID)
	}
}

// ========== 节点事件（实现 lavalink.EventHandler） ==========

// OnNodeReady 节点握手完成
func (m *Manager) OnNodeReady(name string) {
	logger.Info("node ready", logger.String("node", name))
}

// OnNodeError 节点连接出错（将按策略重连）
func (m *Manager) OnNodeError(name string, err error) {
	logger.Warn("node error", logger.String("node", name), logger.ErrorField(err))
}

// OnNodeClose 节点连接被关闭
func (m *Manager) OnNodeClose(name string, code int, reason string) {
	logger.Warn("node connection closed",
		logger.String("node", name),
		logger.Int("code", code),
		logger.String("reason", reason))
}

// OnNodeReconnecting 节点重连中
func (m *Manager) OnNodeReconnecting(name string, attempt, max int) {
	logger.Info("node reconnecting",
		logger.String("node", name),
		logger.Int("attempt", attempt),
		logger.Int("max", max))
}

// OnNodeDisconnect 节点彻底失联（重连耗尽或退出）。绑定其上的会话
// 按配置迁移到其他在线节点，或销毁并通知用户。
func (m *Manager) OnNodeDisconnect(name, reason string) {
	logger.Warn("node disconnected",
		logger.String("node", name),
		logger.String("reason", reason))

	for _, sess := range m.sessionsOnNode(name) {
		if m.cfg.MoveOnDisconnect {
			node, err := m.source.Select(context.Background())
			if err == nil {
				if err := sess.Rebind(context.Background(), node); err == nil {
					continue
				}
				logger.Warn("session rebind failed, destroying",
					logger.String("guild", sess.GuildID()))
			}
		}
		sess.DestroyByNodeLoss(context.Background(), name)
	}
}

// sessionsOnNode 绑定在指定节点上的会话快照。在管理器锁外逐个操作
// 会话，避免与会话销毁回调形成锁序倒置。
func (m *Manager) sessionsOnNode(name string) []*Session {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.mu.RUnlock()

	bound := all[:0]
	for _, sess := range all {
		if sess.NodeName() == name {
			bound = append(bound, sess)
		}
	}
	return bound
}

// OnTrackStart 路由到对应会话
func (m *Manager) OnTrackStart(node, guildID, encoded string) {
	if sess := m.Session(guildID); sess != nil {
		sess.HandleTrackStart(encoded)
	}
}

// OnTrackEnd 路由到对应会话
func (m *Manager) OnTrackEnd(node, guildID, encoded, reason string) {
	if sess := m.Session(guildID); sess != nil {
		sess.HandleTrackEnd(encoded, reason)
	}
}

// OnTrackException 路由到对应会话
func (m *Manager) OnTrackException(node, guildID, message string) {
	if sess := m.Session(guildID); sess != nil {
		sess.HandlePlayerError(message)
	}
}

// OnWebSocketClosed 语音网关连接关闭。记录即可，节点自己会处理重连，
// 彻底失联走 OnNodeDisconnect。
func (m *Manager) OnWebSocketClosed(node, guildID string, code int, reason string) {
	logger.Warn("voice websocket closed",
		logger.String("node", node),
		logger.String("guild", guildID),
		logger.Int("code", code),
		logger.String("reason", reason))
}
