package player

import (
	"fmt"
	"math/rand"

	"melodify/model"
)

// Queue 会话内的先进先出播放队列。本身不做并发保护，
// 所有访问都在所属会话的锁内进行。
type Queue struct {
	items []model.Track
}

// Len 队列长度
func (q *Queue) Len() int {
	return len(q.items)
}

// Add 追加到队尾，保持到达顺序
func (q *Queue) Add(tracks ...model.Track) {
	q.items = append(q.items, tracks...)
}

// InsertFront 插入队首（单曲循环的重新入队）
func (q *Queue) InsertFront(t model.Track) {
	q.items = append([]model.Track{t}, q.items...)
}

// Pop 取出队首
func (q *Queue) Pop() (model.Track, bool) {
	if len(q.items) == 0 {
		return model.Track{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// RemoveAt 移除指定位置的曲目（0 起）
func (q *Queue) RemoveAt(i int) (model.Track, error) {
	if i < 0 || i >= len(q.items) {
		return model.Track{}, fmt.Errorf("queue index out of range: %d", i)
	}
	t := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return t, nil
}

// Clear 清空队列
func (q *Queue) Clear() {
	q.items = nil
}

// DropFirst 丢弃前 k 首
func (q *Queue) DropFirst(k int) {
	if k <= 0 {
		return
	}
	if k >= len(q.items) {
		q.items = nil
		return
	}
	q.items = q.items[k:]
}

// Shuffle 随机打乱。Fisher-Yates 洗牌。
func (q *Queue) Shuffle() {
	for i := len(q.items) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		q.items[i], q.items[j] = q.items[j], q.items[i]
	}
}

// Tracks 队列内容的副本快照
func (q *Queue) Tracks() []model.Track {
	out := make([]model.Track, len(q.items))
	copy(out, q.items)
	return out
}
