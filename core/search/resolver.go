package search

import (
	"context"
	"errors"
	"strings"

	"melodify/cache"
	"melodify/core/lavalink"
	"melodify/logger"
)

// ErrNoMatches 查询没有解析出任何曲目
var ErrNoMatches = errors.New("no matches found")

// Resolver 把用户输入（URL或搜索词）解析为曲目列表。解析经过节点的
// loadtracks 接口，结果走 Redis 旁路缓存；缓存不可用时直接透传。
type Resolver struct {
	registry *lavalink.Registry
	cache    *cache.SearchCache
}

// NewResolver 创建解析器
func NewResolver(registry *lavalink.Registry, sc *cache.SearchCache) *Resolver {
	return &Resolver{registry: registry, cache: sc}
}

// isURL 判定输入是链接还是搜索词
func isURL(query string) bool {
	return strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://")
}

// identifier 非 URL 输入加搜索前缀
func identifier(query string) string {
	if isURL(query) {
		return query
	}
	return "ytsearch:" + query
}

// Resolve 解析查询串。搜索词只取首个结果，URL按节点返回原样透传
// （单曲一首、歌单整张）。
func (r *Resolver) Resolve(ctx context.Context, query string) (*cache.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoMatches
	}

	if r.cache != nil {
		if hit, err := r.cache.Get(ctx, query); err != nil {
			logger.Warn("search cache read failed", logger.ErrorField(err))
		} else if hit != nil && len(hit.Tracks) > 0 {
			return hit, nil
		}
	}

	node, err := r.registry.SelectNodeWait(ctx)
	if err != nil {
		return nil, err
	}

	loaded, err := node.LoadTracks(ctx, identifier(query))
	if err != nil {
		return nil, err
	}
	if len(loaded.Tracks) == 0 {
		return nil, ErrNoMatches
	}

	result := &cache.SearchResult{
		Playlist:     loaded.Playlist,
		PlaylistName: loaded.PlaylistName,
		Tracks:       loaded.Tracks,
	}
	if !loaded.Playlist && !isURL(query) {
		// 搜索词：取首个结果
		result.Tracks = result.Tracks[:1]
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, query, result); err != nil {
			logger.Warn("search cache write failed", logger.ErrorField(err))
		}
	}
	return result, nil
}
