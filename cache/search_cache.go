package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"melodify/model"
)

// SearchResult 一次曲目解析的结果。Playlist 为真时 Tracks 是整张歌单。
type SearchResult struct {
	Playlist     bool          `json:"playlist"`
	PlaylistName string        `json:"playlistName,omitempty"`
	Tracks       []model.Track `json:"tracks"`
}

// SearchCache 曲目解析结果的旁路缓存。会话与节点状态一律不落盘（进程重启
// 全量重建），这里只缓存纯查询结果，带TTL过期。
type SearchCache struct {
	ttl time.Duration
}

// NewSearchCache 创建搜索缓存
func NewSearchCache(ttl time.Duration) *SearchCache {
	return &SearchCache{ttl: ttl}
}

// searchKey 根据查询串生成缓存键
func searchKey(query string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("search:%s", hex.EncodeToString(sum[:]))
}

// Get 查询缓存，未命中返回 (nil, nil)。
func (c *SearchCache) Get(ctx context.Context, query string) (*SearchResult, error) {
	if RedisClient == nil {
		return nil, nil
	}

	data, err := RedisClient.Get(ctx, searchKey(query)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get search result: %w", err)
	}

	var result SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search result: %w", err)
	}
	return &result, nil
}

// Set 写入缓存。缓存不可用时静默跳过。
func (c *SearchCache) Set(ctx context.Context, query string, result *SearchResult) error {
	if RedisClient == nil || result == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal search result: %w", err)
	}

	if err := RedisClient.Set(ctx, searchKey(query), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set search result: %w", err)
	}
	return nil
}
