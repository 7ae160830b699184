package player

import (
	"github.com/google/uuid"

	"melodify/model"
)

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyTrackStart  NotificationKind = "track_start"  // 开始播放一首曲目
	NotifyQueueEnd    NotificationKind = "queue_end"    // 队列播完，进入闲置等待
	NotifyPlayerError NotificationKind = "player_error" // 播放错误（可能触发自动跳歌）
	NotifySessionEnd  NotificationKind = "session_end"  // 会话销毁（节点彻底失联等）
)

// Notification 面向聊天层的结构化事件。核心不负责渲染文案，
// 只携带渲染所需的数据，按 TextChannelID 路由。
type Notification struct {
	ID            string
	Kind          NotificationKind
	GuildID       string
	TextChannelID string
	Track         *model.Track
	Message       string
}

func newNotification(kind NotificationKind, guildID, textChannelID string) Notification {
	return Notification{
		ID:            uuid.NewString(),
		Kind:          kind,
		GuildID:       guildID,
		TextChannelID: textChannelID,
	}
}
