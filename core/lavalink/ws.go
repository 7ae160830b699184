package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"melodify/logger"
	"melodify/model"
)

const (
	handshakeTimeout = 10 * time.Second
	// 节点至少每分钟推送一次负载快照，超过两个周期没有任何下行视为连接死亡
	readWait = 2 * time.Minute
)

// start 启动节点的传输协程。每个节点独立重连，互不影响。
func (n *Node) start(ctx context.Context, userID string) {
	n.userID = userID
	go n.run(ctx)
}

// run 连接主循环：拨号→读取→掉线重连。重试次数与间隔来自配置；
// 连接一旦完全建立过，掉线后重试计数重新开始。
func (n *Node) run(ctx context.Context) {
	tries := n.registry.opts.ReconnectTries
	interval := n.registry.opts.ReconnectInterval

	attempt := 0
	for {
		if ctx.Err() != nil {
			n.setState(model.StateDisconnected)
			return
		}

		if attempt == 0 {
			n.setState(model.StateConnecting)
		} else {
			n.setState(model.StateReconnecting)
			n.registry.emitReconnecting(n.cfg.Name, attempt, tries)
			select {
			case <-ctx.Done():
				n.setState(model.StateDisconnected)
				return
			case <-time.After(interval):
			}
		}

		conn, err := n.dial(ctx)
		if err != nil {
			n.registry.emitError(n.cfg.Name, err)
			attempt++
			if attempt > tries {
				n.setState(model.StateDisconnected)
				n.registry.emitDisconnect(n.cfg.Name, "reconnect attempts exhausted")
				return
			}
			continue
		}

		n.mu.Lock()
		n.conn = conn
		n.state = model.StateNearlyReady // 已握手，等待节点下发 ready
		n.mu.Unlock()

		code, reason, readErr := n.readLoop(conn)

		n.mu.Lock()
		wasReady := n.state == model.StateReady
		n.conn = nil
		n.sessionID = ""
		n.state = model.StateDisconnecting
		n.mu.Unlock()
		conn.Close()

		if readErr != nil && ctx.Err() == nil {
			n.registry.emitError(n.cfg.Name, readErr)
		}
		n.registry.emitClose(n.cfg.Name, code, reason)

		if ctx.Err() != nil {
			n.setState(model.StateDisconnected)
			n.registry.emitDisconnect(n.cfg.Name, "shutting down")
			return
		}

		if wasReady {
			attempt = 1
		} else {
			attempt++
			if attempt > tries {
				n.setState(model.StateDisconnected)
				n.registry.emitDisconnect(n.cfg.Name, "reconnect attempts exhausted")
				return
			}
		}
	}
}

// dial 建立到节点的 WebSocket 连接
func (n *Node) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}
	endpoint := fmt.Sprintf("%s://%s/v4/websocket", scheme, n.cfg.Address)

	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.userID)
	header.Set("Client-Name", n.registry.clientName())

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", n.cfg.Name, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", n.cfg.Name, err)
	}
	return conn, nil
}

// readLoop 持续读取节点下行消息直到连接断开，返回关闭码与原因。
func (n *Node) readLoop(conn *websocket.Conn) (code int, reason string, err error) {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if closeErr, ok := rerr.(*websocket.CloseError); ok {
				return closeErr.Code, closeErr.Text, nil
			}
			return 0, "", rerr
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		n.handleMessage(data)
	}
}

// handleMessage 分发一条节点下行消息
func (n *Node) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("invalid message from node",
			logger.String("node", n.cfg.Name),
			logger.ErrorField(err))
		return
	}

	switch msg.Op {
	case "ready":
		n.mu.Lock()
		n.sessionID = msg.SessionID
		n.state = model.StateReady
		n.mu.Unlock()
		logger.Info("node ready",
			logger.String("node", n.cfg.Name),
			logger.Bool("resumed", msg.Resumed))
		n.registry.emitReady(n.cfg.Name)

	case "stats":
		var stats model.NodeStats
		if err := json.Unmarshal(data, &stats); err != nil {
			logger.Warn("invalid stats payload",
				logger.String("node", n.cfg.Name),
				logger.ErrorField(err))
			return
		}
		n.setStats(&stats)

	case "playerUpdate":
		// 播放进度心跳，当前不消费

	case "event":
		n.handleEvent(data)

	default:
		logger.Debug("unhandled node op",
			logger.String("node", n.cfg.Name),
			logger.String("op", msg.Op))
	}
}

// handleEvent 分发播放器事件，按 guild 路由给事件桥
func (n *Node) handleEvent(data []byte) {
	var ev trackEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Warn("invalid event payload",
			logger.String("node", n.cfg.Name),
			logger.ErrorField(err))
		return
	}

	encoded := ""
	if ev.Track != nil {
		encoded = ev.Track.Encoded
	}

	switch ev.Type {
	case "TrackStartEvent":
		n.registry.emitTrackStart(n.cfg.Name, ev.GuildID, encoded)

	case "TrackEndEvent":
		n.registry.emitTrackEnd(n.cfg.Name, ev.GuildID, encoded, ev.Reason)

	case "TrackExceptionEvent":
		message := "playback failed"
		if ev.Exception != nil && ev.Exception.Message != "" {
			message = ev.Exception.Message
		}
		n.registry.emitTrackException(n.cfg.Name, ev.GuildID, message)

	case "TrackStuckEvent":
		n.registry.emitTrackException(n.cfg.Name, ev.GuildID, "track stuck")

	case "WebSocketClosedEvent":
		n.registry.emitWebSocketClosed(n.cfg.Name, ev.GuildID, ev.Code, ev.Reason)

	default:
		logger.Debug("unhandled player event",
			logger.String("node", n.cfg.Name),
			logger.String("type", ev.Type))
	}
}
