package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"melodify/core/lavalink"
	"melodify/core/player"
	"melodify/logger"
	"melodify/model"
)

// StatusProvider 健康检查需要的机器人侧信息
type StatusProvider interface {
	UserID() string
	Uptime() time.Duration
}

// Server 健康检查 HTTP 服务。监控探活走 /ping，/ 返回整体状态快照。
type Server struct {
	httpServer *http.Server
	registry   *lavalink.Registry
	manager    *player.Manager
	status     StatusProvider
}

// New 创建健康检查服务
func New(addr string, registry *lavalink.Registry, manager *player.Manager, status StatusProvider) *Server {
	s := &Server{
		registry: registry,
		manager:  manager,
		status:   status,
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start 启动监听，阻塞到服务被关闭
func (s *Server) Start() error {
	logger.Info("health server starting", logger.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusResponse GET / 的响应体
type statusResponse struct {
	Status      string             `json:"status"`
	BotUser     string             `json:"botUser,omitempty"`
	Uptime      string             `json:"uptime"`
	Sessions    int                `json:"sessions"`
	NodesOnline int                `json:"nodesOnline"`
	NodesTotal  int                `json:"nodesTotal"`
	Preference  string             `json:"nodePreference"`
	Nodes       []model.NodeStatus `json:"nodes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	online, total := s.registry.OnlineCount()

	resp := statusResponse{
		Status:      "ok",
		Uptime:      s.status.Uptime().Round(time.Second).String(),
		BotUser:     s.status.UserID(),
		Sessions:    s.manager.SessionCount(),
		NodesOnline: online,
		NodesTotal:  total,
		Preference:  s.registry.Preference(),
		Nodes:       s.registry.ListNodes(),
	}
	if online == 0 {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to write status response", logger.ErrorField(err))
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}
