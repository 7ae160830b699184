package player

import "errors"

// 命令校验错误。同步拒绝，不改变会话状态，由聊天层翻译成用户提示。
var (
	ErrNothingPlaying   = errors.New("nothing is playing")
	ErrAlreadyPaused    = errors.New("player is already paused")
	ErrNotPaused        = errors.New("player is not paused")
	ErrVolumeRange      = errors.New("volume must be between 0 and 150")
	ErrQueueTooShort    = errors.New("queue needs at least 2 tracks")
	ErrSessionDestroyed = errors.New("session has been destroyed")
	ErrNoSession        = errors.New("no active session for this guild")
)
