package player

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"melodify/logger"
	"melodify/model"
)

// NodeClient 会话对音频节点的全部依赖。*lavalink.Node 实现了它；
// 测试用假节点替换。
type NodeClient interface {
	Name() string
	Online() bool
	Play(ctx context.Context, guildID string, track model.Track) error
	Stop(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string, paused bool) error
	SetVolume(ctx context.Context, guildID string, volume int) error
	SetFilters(ctx context.Context, guildID string, filters json.RawMessage) error
	UpdateVoice(ctx context.Context, guildID string, voice model.VoiceUpdate) error
	DestroyPlayer(ctx context.Context, guildID string) error
}

// SessionConfig 会话行为参数，全部来自进程配置
type SessionConfig struct {
	DefaultVolume int
	IdleTimeout   time.Duration // 队列清空后到自动销毁的等待
	AutoSkipDelay time.Duration // 播放错误后自动跳歌的延迟
}

// Session 一个 guild 的播放会话：队列、当前曲目、播放状态、闲置计时。
// 所有变更（用户命令与节点事件）都串行经过同一把锁，到达即序；
// 不同 guild 的会话完全独立。计时器归会话自有，销毁时一并取消，
// 回调触发时先复查状态再动作，杜绝"销毁后计时器补刀"。
type Session struct {
	guildID        string
	textChannelID  string
	voiceChannelID string

	mu        sync.Mutex
	node      NodeClient
	queue     Queue
	current   *model.Track
	playing   bool
	paused    bool
	volume    int
	loopMode  model.LoopMode
	filters   json.RawMessage
	destroyed bool

	awaitingStart bool // 已下发播放、尚未收到开始事件（用于事件去重）

	idleTimer *time.Timer
	skipTimer *time.Timer

	// 语音网关凭据，由聊天平台层转交，凑齐后下发节点
	voiceToken     string
	voiceEndpoint  string
	voiceSessionID string

	cfg       SessionConfig
	notify    func(Notification)
	onDestroy func(guildID string)
}

// NewSession 创建会话并绑定节点。会话只在销毁重建时更换节点
// （节点掉线迁移见 Rebind）。
func NewSession(guildID, textChannelID, voiceChannelID string, node NodeClient, cfg SessionConfig, notify func(Notification), onDestroy func(string)) *Session {
	return &Session{
		guildID:        guildID,
		textChannelID:  textChannelID,
		voiceChannelID: voiceChannelID,
		node:           node,
		volume:         cfg.DefaultVolume,
		cfg:            cfg,
		notify:         notify,
		onDestroy:      onDestroy,
	}
}

// ========== 只读快照 ==========

// GuildID 所属 guild
func (s *Session) GuildID() string { return s.guildID }

// TextChannelID 发起播放的文字频道
func (s *Session) TextChannelID() string { return s.textChannelID }

// VoiceChannelID 绑定的语音频道
func (s *Session) VoiceChannelID() string { return s.voiceChannelID }

// NodeName 当前绑定节点名
func (s *Session) NodeName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node.Name()
}

// Current 正在播放的曲目副本，空闲时返回 nil
func (s *Session) Current() *model.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}

// QueueTracks 队列快照
func (s *Session) QueueTracks() []model.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Tracks()
}

// QueueLen 队列长度
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Volume 当前音量
func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Loop 当前循环模式
func (s *Session) Loop() model.LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopMode
}

// Playing 是否正在播放（非暂停）
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Paused 是否暂停中
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Destroyed 是否已销毁
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// ========== 用户命令 ==========

// Enqueue 入队若干曲目。空闲（刚建或排空等待中）时立即把队首提升为
// 当前曲目开始播放，并取消闲置计时。position 是本批第一首的队列位置（1 起）。
func (s *Session) Enqueue(ctx context.Context, tracks ...model.Track) (started bool, position int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false, 0, ErrSessionDestroyed
	}

	s.queue.Add(tracks...)
	position = s.queue.Len() - len(tracks) + 1

	if s.current == nil {
		if err := s.promoteLocked(ctx); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}
	return false, position, nil
}

// promoteLocked 队首提升为当前曲目并下发播放。调用方持锁。
func (s *Session) promoteLocked(ctx context.Context) error {
	next, ok := s.queue.Pop()
	if !ok {
		return ErrNothingPlaying
	}

	s.cancelIdleLocked()
	s.current = &next
	s.playing = true
	s.paused = false
	s.awaitingStart = true

	if err := s.node.Play(ctx, s.guildID, next); err != nil {
		// 下发失败，回滚到下发前的队列形态
		s.queue.InsertFront(next)
		s.current = nil
		s.playing = false
		s.awaitingStart = false
		return err
	}
	return nil
}

// Skip 跳到下一首。无曲可跳时同步报错，不改状态。
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.current == nil && s.queue.Len() == 0 {
		return ErrNothingPlaying
	}

	if s.current != nil {
		// 让节点停掉当前曲目，后续的结束事件驱动推进
		return s.node.Stop(ctx, s.guildID)
	}
	return s.promoteLocked(ctx)
}

// Pause 暂停或恢复。重复操作（已暂停再暂停等）同步报错，不改状态。
func (s *Session) Pause(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.current == nil {
		return ErrNothingPlaying
	}
	if paused && s.paused {
		return ErrAlreadyPaused
	}
	if !paused && !s.paused {
		return ErrNotPaused
	}

	if err := s.node.Pause(ctx, s.guildID, paused); err != nil {
		return err
	}
	s.paused = paused
	s.playing = !paused
	return nil
}

// Stop 无条件销毁会话：清队列、释放节点资源、取消全部计时器。
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	s.destroyLocked(ctx)
	return nil
}

// SetVolume 设置音量，范围 [0,150]。越界同步拒绝，不改当前音量。
func (s *Session) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 150 {
		return ErrVolumeRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if err := s.node.SetVolume(ctx, s.guildID, volume); err != nil {
		return err
	}
	s.volume = volume
	return nil
}

// SetLoop 设置循环模式。纯本地状态，结算发生在曲目结束时。
func (s *Session) SetLoop(mode model.LoopMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	s.loopMode = mode
	return nil
}

// SetFilters 下发滤波器配置，内容对会话不透明
func (s *Session) SetFilters(ctx context.Context, filters json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if err := s.node.SetFilters(ctx, s.guildID, filters); err != nil {
		return err
	}
	s.filters = filters
	return nil
}

// Shuffle 打乱队列
func (s *Session) Shuffle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.queue.Len() < 2 {
		return ErrQueueTooShort
	}
	s.queue.Shuffle()
	return nil
}

// Remove 移除队列中指定位置的曲目
func (s *Session) Remove(index int) (model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return model.Track{}, ErrSessionDestroyed
	}
	return s.queue.RemoveAt(index)
}

// ========== 节点事件（事件桥入口） ==========

// HandleTrackStart 节点确认开始播放。对重复投递幂等：与现状一致的
// 二次事件不做任何事。
func (s *Session) HandleTrackStart(encoded string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.current == nil {
		return
	}
	if encoded != "" && s.current.Encoded != encoded {
		// 迟到的旧曲目事件
		return
	}
	if !s.awaitingStart {
		// 重复投递
		return
	}

	s.awaitingStart = false
	s.cancelIdleLocked()
	s.playing = !s.paused

	n := newNotification(NotifyTrackStart, s.guildID, s.textChannelID)
	t := *s.current
	n.Track = &t
	s.emitLocked(n)
}

// HandleTrackEnd 曲目结束。先按循环模式结算（单曲插队首、队列补队尾），
// 再推进：队列非空提升下一首，否则进入排空等待并武装闲置计时。
// reason 为 finished 才算自然结束；stopped/replaced 等不触发循环结算。
func (s *Session) HandleTrackEnd(encoded, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.current == nil {
		// 会话已销毁，或该曲目的结束已被处理过（重复投递）
		return
	}
	if encoded != "" && s.current.Encoded != encoded {
		return
	}
	if s.awaitingStart && (reason == "" || reason == "finished") {
		// 尚未确认开始的曲目不可能自然结束。循环提升可能让新旧曲目携带
		// 同一个编码令牌，此时重复投递的结束事件会穿过上面的同一性检查，
		// 靠这里挡住，避免对节点二次下发播放。
		return
	}

	ended := *s.current
	s.current = nil
	s.playing = false
	s.paused = false
	s.awaitingStart = false

	if reason == "" || reason == "finished" {
		switch s.loopMode {
		case model.LoopTrack:
			s.queue.InsertFront(ended)
		case model.LoopQueue:
			s.queue.Add(ended)
		}
	}

	if reason == "replaced" {
		// 新曲目的开始事件在路上，不在这里推进
		return
	}

	if s.queue.Len() > 0 {
		if err := s.promoteLocked(context.Background()); err != nil {
			logger.Error("failed to advance after track end",
				logger.String("guild", s.guildID),
				logger.ErrorField(err))
			s.drainLocked()
		}
		return
	}
	s.drainLocked()
}

// HandlePlayerError 节点播放错误。通知用户；队列非空时延迟一拍再自动
// 跳歌（避免坏源引发紧密错误循环），队列为空走排空路径。
func (s *Session) HandlePlayerError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	n := newNotification(NotifyPlayerError, s.guildID, s.textChannelID)
	n.Message = message
	if s.current != nil {
		t := *s.current
		n.Track = &t
	}
	s.emitLocked(n)

	// 出错曲目视为已消费；随后节点补发的结束事件会因 current 为空而被忽略
	s.current = nil
	s.playing = false
	s.paused = false
	s.awaitingStart = false

	if s.queue.Len() == 0 {
		s.drainLocked()
		return
	}
	s.scheduleAutoSkipLocked()
}

// ========== 计时器 ==========

// drainLocked 进入排空等待：武装闲置计时，通知队列播完。调用方持锁。
func (s *Session) drainLocked() {
	s.armIdleLocked()
	s.emitLocked(newNotification(NotifyQueueEnd, s.guildID, s.textChannelID))
}

// armIdleLocked 武装闲置计时器。只在队列与当前曲目都为空时存在。
func (s *Session) armIdleLocked() {
	s.cancelIdleLocked()
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.idleExpired)
}

// idleExpired 闲置计时到期。期间可能已有新曲入队或会话已销毁，
// 持锁复查仍处排空状态才执行销毁，天然对重复触发幂等。
func (s *Session) idleExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.current != nil || s.queue.Len() > 0 {
		return
	}
	logger.Info("session idle timeout, destroying",
		logger.String("guild", s.guildID),
		logger.Duration("idleTimeout", s.cfg.IdleTimeout))
	s.destroyLocked(context.Background())
}

func (s *Session) cancelIdleLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// scheduleAutoSkipLocked 安排错误后的自动跳歌
func (s *Session) scheduleAutoSkipLocked() {
	s.cancelSkipLocked()
	delay := s.cfg.AutoSkipDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	s.skipTimer = time.AfterFunc(delay, s.autoSkip)
}

// autoSkip 自动跳歌触发。复查状态：期间用户可能已手动操作或会话已销毁。
func (s *Session) autoSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.current != nil {
		return
	}
	if s.queue.Len() == 0 {
		s.drainLocked()
		return
	}
	if err := s.promoteLocked(context.Background()); err != nil {
		logger.Error("auto-skip failed",
			logger.String("guild", s.guildID),
			logger.ErrorField(err))
		s.drainLocked()
	}
}

func (s *Session) cancelSkipLocked() {
	if s.skipTimer != nil {
		s.skipTimer.Stop()
		s.skipTimer = nil
	}
}

// ========== 语音凭据 ==========

// UpdateVoiceServer 聊天平台下发语音服务器凭据
func (s *Session) UpdateVoiceServer(token, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.voiceToken = token
	s.voiceEndpoint = endpoint
	s.pushVoiceLocked()
}

// UpdateVoiceState 聊天平台下发语音会话标识
func (s *Session) UpdateVoiceState(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.voiceSessionID = sessionID
	s.pushVoiceLocked()
}

// pushVoiceLocked 凭据凑齐后转交节点
func (s *Session) pushVoiceLocked() {
	if s.voiceToken == "" || s.voiceEndpoint == "" || s.voiceSessionID == "" {
		return
	}
	voice := model.VoiceUpdate{
		Token:     s.voiceToken,
		Endpoint:  s.voiceEndpoint,
		SessionID: s.voiceSessionID,
	}
	if err := s.node.UpdateVoice(context.Background(), s.guildID, voice); err != nil {
		logger.Warn("failed to push voice credentials",
			logger.String("guild", s.guildID),
			logger.String("node", s.node.Name()),
			logger.ErrorField(err))
	}
}

// ========== 节点迁移与销毁 ==========

// Rebind 把会话迁移到新节点：重发语音凭据与音量，当前曲目从头重放。
// 仅在配置允许掉线迁移时由管理器调用。
func (s *Session) Rebind(ctx context.Context, node NodeClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}

	old := s.node.Name()
	s.node = node
	s.pushVoiceLocked()

	if err := s.node.SetVolume(ctx, s.guildID, s.volume); err != nil {
		logger.Warn("failed to restore volume on rebind",
			logger.String("guild", s.guildID),
			logger.ErrorField(err))
	}
	if s.filters != nil {
		if err := s.node.SetFilters(ctx, s.guildID, s.filters); err != nil {
			logger.Warn("failed to restore filters on rebind",
				logger.String("guild", s.guildID),
				logger.ErrorField(err))
		}
	}

	logger.Info("session rebound to new node",
		logger.String("guild", s.guildID),
		logger.String("from", old),
		logger.String("to", node.Name()))

	if s.current != nil {
		restart := *s.current
		s.current = nil
		s.queue.InsertFront(restart)
		return s.promoteLocked(ctx)
	}
	return nil
}

// DestroyByNodeLoss 绑定节点彻底失联且无迁移可用时由管理器调用
func (s *Session) DestroyByNodeLoss(ctx context.Context, nodeName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	n := newNotification(NotifySessionEnd, s.guildID, s.textChannelID)
	n.Message = "audio node " + nodeName + " disconnected"
	s.emitLocked(n)
	s.destroyLocked(ctx)
}

// destroyLocked 终态迁移：清队列、取消计时器、释放节点播放器。
// 幂等，调用方持锁。
func (s *Session) destroyLocked(ctx context.Context) {
	if s.destroyed {
		return
	}
	s.destroyed = true

	s.cancelIdleLocked()
	s.cancelSkipLocked()
	s.queue.Clear()
	s.current = nil
	s.playing = false
	s.paused = false
	s.awaitingStart = false

	if err := s.node.DestroyPlayer(ctx, s.guildID); err != nil {
		logger.Warn("failed to destroy node player",
			logger.String("guild", s.guildID),
			logger.String("node", s.node.Name()),
			logger.ErrorField(err))
	}

	if s.onDestroy != nil {
		s.onDestroy(s.guildID)
	}
	logger.Info("session destroyed", logger.String("guild", s.guildID))
}

// emitLocked 发出通知。从控制器视角是即发即忘，绝不阻塞会话锁。
func (s *Session) emitLocked(n Notification) {
	if s.notify != nil {
		s.notify(n)
	}
}
