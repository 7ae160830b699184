package bot

import (
	"context"

	"melodify/core/lavalink"
	"melodify/core/player"
)

// RegistrySource 把节点注册表适配成会话管理器的选点入口。
// 注册表与管理器互不感知，接线在这里完成。
type RegistrySource struct {
	registry *lavalink.Registry
}

// NewRegistrySource 创建选点适配器
func NewRegistrySource(r *lavalink.Registry) *RegistrySource {
	return &RegistrySource{registry: r}
}

// Select 选一个在线节点，短暂无节点时等待一个重试窗口
func (s *RegistrySource) Select(ctx context.Context) (player.NodeClient, error) {
	node, err := s.registry.SelectNodeWait(ctx)
	if err != nil {
		return nil, err
	}
	return node, nil
}
