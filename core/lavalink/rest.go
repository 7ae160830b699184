package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"melodify/logger"
	"melodify/model"
)

// REST 层风格沿用平台内其他 HTTP 客户端：标准库 net/http + JSON，
// 超时由 Registry 配置统一控制。

// playerTrack PATCH 播放器时的曲目字段。Encoded 为 nil 时序列化为
// {"encoded":null}，节点语义为停止当前曲目。
type playerTrack struct {
	Encoded *string `json:"encoded"`
}

// playerUpdate PATCH /v4/sessions/{session}/players/{guild} 的请求体，
// 只携带要变更的字段。
type playerUpdate struct {
	Track   *playerTrack       `json:"track,omitempty"`
	Paused  *bool              `json:"paused,omitempty"`
	Volume  *int               `json:"volume,omitempty"`
	Filters json.RawMessage    `json:"filters,omitempty"`
	Voice   *model.VoiceUpdate `json:"voice,omitempty"`
}

// LoadResult 曲目解析结果
type LoadResult struct {
	Playlist     bool
	PlaylistName string
	Tracks       []model.Track
}

func (n *Node) baseURL() string {
	scheme := "http"
	if n.cfg.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, n.cfg.Address)
}

// doJSON 执行一次带鉴权的 JSON 请求。out 为 nil 时丢弃响应体。
func (n *Node) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node %s request failed: %w", n.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("node %s returned %d: %s", n.cfg.Name, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// updatePlayer 向节点提交播放器变更
func (n *Node) updatePlayer(ctx context.Context, guildID string, upd playerUpdate, noReplace bool) error {
	sessionID, err := n.snapshot()
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v4/sessions/%s/players/%s?noReplace=%t", sessionID, guildID, noReplace)
	return n.doJSON(ctx, http.MethodPatch, path, upd, nil)
}

// DestroyPlayer 销毁指定 guild 的播放器，释放节点侧资源
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	sessionID, err := n.snapshot()
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v4/sessions/%s/players/%s", sessionID, guildID)
	return n.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// loadResponse GET /v4/loadtracks 的响应外层
type loadResponse struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// LoadTracks 解析一个标识（URL或搜索串）为曲目列表
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	if _, err := n.snapshot(); err != nil {
		return nil, err
	}

	path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
	var resp loadResponse
	if err := n.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	switch resp.LoadType {
	case "track":
		var t wireTrack
		if err := json.Unmarshal(resp.Data, &t); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		return &LoadResult{Tracks: []model.Track{t.toModel()}}, nil

	case "search":
		var ts []wireTrack
		if err := json.Unmarshal(resp.Data, &ts); err != nil {
			return nil, fmt.Errorf("decode search results: %w", err)
		}
		return &LoadResult{Tracks: wireTracksToModel(ts)}, nil

	case "playlist":
		var pl struct {
			Info struct {
				Name string `json:"name"`
			} `json:"info"`
			Tracks []wireTrack `json:"tracks"`
		}
		if err := json.Unmarshal(resp.Data, &pl); err != nil {
			return nil, fmt.Errorf("decode playlist: %w", err)
		}
		return &LoadResult{
			Playlist:     true,
			PlaylistName: pl.Info.Name,
			Tracks:       wireTracksToModel(pl.Tracks),
		}, nil

	case "empty":
		return &LoadResult{}, nil

	case "error":
		var exc struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Data, &exc); err != nil || exc.Message == "" {
			return nil, fmt.Errorf("node %s failed to load %q", n.cfg.Name, identifier)
		}
		return nil, fmt.Errorf("node %s failed to load %q: %s", n.cfg.Name, identifier, exc.Message)

	default:
		logger.Warn("unknown loadType from node",
			logger.String("node", n.cfg.Name),
			logger.String("loadType", resp.LoadType))
		return &LoadResult{}, nil
	}
}

func (t wireTrack) toModel() model.Track {
	length := t.Info.Length
	if t.Info.IsStream {
		length = 0
	}
	return model.Track{
		Encoded:    t.Encoded,
		Title:      t.Info.Title,
		Author:     t.Info.Author,
		URI:        t.Info.URI,
		Duration:   length,
		ArtworkURL: t.Info.ArtworkURL,
	}
}

func wireTracksToModel(ts []wireTrack) []model.Track {
	out := make([]model.Track, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.toModel())
	}
	return out
}
