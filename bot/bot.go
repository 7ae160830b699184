package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"melodify/core/lavalink"
	"melodify/core/player"
	"melodify/core/search"
	"melodify/logger"
)

// Bot 聊天平台适配层：把消息命令翻译成核心操作，把核心通知渲染回
// 文字频道，并转发语音网关凭据。
type Bot struct {
	session  *discordgo.Session
	manager  *player.Manager
	registry *lavalink.Registry
	resolver *search.Resolver
	prefix   string

	startTime time.Time
}

// New 创建机器人实例并注册事件处理器
func New(token, prefix string, manager *player.Manager, registry *lavalink.Registry, resolver *search.Resolver) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	b := &Bot{
		session:  session,
		manager:  manager,
		registry: registry,
		resolver: resolver,
		prefix:   prefix,
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceServerUpdate)
	session.AddHandler(b.onVoiceStateUpdate)

	return b, nil
}

// Open 建立网关连接并启动通知消费。ctx 取消时通知循环退出。
func (b *Bot) Open(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.startTime = time.Now()
	go b.notifyLoop(ctx)
	return nil
}

// Close 断开网关连接
func (b *Bot) Close() error {
	return b.session.Close()
}

// UserID 机器人在平台上的身份，节点握手需要
func (b *Bot) UserID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

// Uptime 网关连接时长
func (b *Bot) Uptime() time.Duration {
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Info("discord gateway ready",
		logger.String("user", r.User.Username),
		logger.String("id", r.User.ID),
		logger.Int("guilds", len(r.Guilds)))
	s.UpdateGameStatus(0, b.prefix+"help")
}

// ========== 语音凭据转发 ==========

func (b *Bot) onVoiceServerUpdate(s *discordgo.Session, v *discordgo.VoiceServerUpdate) {
	b.manager.UpdateVoiceServer(v.GuildID, v.Token, v.Endpoint)
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || v.UserID != s.State.User.ID {
		return
	}
	if v.ChannelID == "" {
		// 机器人被移出语音频道，结束该 guild 的会话
		if err := b.manager.Stop(context.Background(), v.GuildID); err == nil {
			logger.Info("session ended after voice disconnect",
				logger.String("guild", v.GuildID))
		}
		return
	}
	b.manager.UpdateVoiceState(v.GuildID, v.SessionID)
}

// joinVoice 加入语音频道。凭据由随后的网关事件转交给节点。
func (b *Bot) joinVoice(guildID, channelID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, channelID, false, true)
}

// leaveVoice 离开语音频道
func (b *Bot) leaveVoice(guildID string) {
	if err := b.session.ChannelVoiceJoinManual(guildID, "", false, true); err != nil {
		logger.Warn("failed to leave voice channel",
			logger.String("guild", guildID),
			logger.ErrorField(err))
	}
}

// ========== 通知渲染 ==========

// notifyLoop 消费核心通知并渲染到发起播放的文字频道
func (b *Bot) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.manager.Notifications():
			b.renderNotification(n)
		}
	}
}

func (b *Bot) renderNotification(n player.Notification) {
	if n.TextChannelID == "" {
		return
	}

	switch n.Kind {
	case player.NotifyTrackStart:
		if n.Track != nil {
			b.reply(n.TextChannelID, fmt.Sprintf("🎶 Now playing: **%s** by %s [%s]",
				n.Track.Title, n.Track.Author, formatDuration(n.Track)))
		}
	case player.NotifyQueueEnd:
		b.reply(n.TextChannelID, "✅ Queue finished. Leaving the voice channel if nothing is added.")
	case player.NotifyPlayerError:
		msg := "⚠️ Playback error"
		if n.Track != nil {
			msg += fmt.Sprintf(" on **%s**", n.Track.Title)
		}
		if n.Message != "" {
			msg += ": " + n.Message
		}
		b.reply(n.TextChannelID, msg)
	case player.NotifySessionEnd:
		msg := "👋 Playback session ended"
		if n.Message != "" {
			msg += ": " + n.Message
		}
		b.reply(n.TextChannelID, msg)
		b.leaveVoice(n.GuildID)
	}
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		logger.Warn("failed to send message",
			logger.String("channel", channelID),
			logger.ErrorField(err))
	}
}
