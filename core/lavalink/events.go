package lavalink

// EventHandler 接收节点层的异步回调。实现方（会话层的事件桥）负责把这些
// 乱序到达的回调翻译成各会话串行消费的事件流；这里只保证按节点串行投递。
type EventHandler interface {
	// 节点连接事件
	OnNodeReady(name string)
	OnNodeError(name string, err error)
	OnNodeClose(name string, code int, reason string)
	OnNodeDisconnect(name string, reason string)
	OnNodeReconnecting(name string, attempt, maxAttempts int)

	// 播放器事件（按 guild 路由）
	OnTrackStart(node, guildID, encoded string)
	OnTrackEnd(node, guildID, encoded, reason string)
	OnTrackException(node, guildID, message string)
	OnWebSocketClosed(node, guildID string, code int, reason string)
}

// ========== 节点WS协议消息 ==========

// wsMessage 节点 WebSocket 下行消息的外层结构
type wsMessage struct {
	Op        string `json:"op"`
	Type      string `json:"type,omitempty"`
	GuildID   string `json:"guildId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
}

// wireTrack 节点侧曲目编码
type wireTrack struct {
	Encoded string        `json:"encoded"`
	Info    wireTrackInfo `json:"info"`
}

type wireTrackInfo struct {
	Identifier string `json:"identifier"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
	SourceName string `json:"sourceName"`
}

// trackEvent op=event 的曲目事件载荷
type trackEvent struct {
	Type      string     `json:"type"`
	GuildID   string     `json:"guildId"`
	Track     *wireTrack `json:"track,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Code      int        `json:"code,omitempty"`
	ByRemote  bool       `json:"byRemote,omitempty"`
	Exception *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception,omitempty"`
}
