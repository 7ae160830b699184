package model

import (
	"fmt"
	"strings"
)

// Track 表示一首可播放的曲目。入队后除队列位置外不可变。
// Encoded 是音频节点侧的曲目令牌，播放指令原样回传给节点。
type Track struct {
	Encoded    string    `json:"encoded"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	URI        string    `json:"uri"`
	Duration   int64     `json:"duration"` // 毫秒，0 表示直播流或未知时长
	ArtworkURL string    `json:"artworkUrl,omitempty"`
	Requester  Requester `json:"requester"`
}

// Requester 点歌人身份
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsStream 是否为直播流（无固定时长）
func (t Track) IsStream() bool {
	return t.Duration == 0
}

// LoopMode 循环模式
type LoopMode int

const (
	LoopOff   LoopMode = iota // 不循环
	LoopTrack                 // 单曲循环：结束后重新插入队首
	LoopQueue                 // 队列循环：结束后追加到队尾
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode 解析用户输入的循环模式
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LoopOff, nil
	case "track":
		return LoopTrack, nil
	case "queue":
		return LoopQueue, nil
	default:
		return LoopOff, fmt.Errorf("invalid loop mode: %q", s)
	}
}
