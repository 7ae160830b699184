package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"melodify/bot"
	"melodify/cache"
	"melodify/config"
	"melodify/core/lavalink"
	"melodify/core/player"
	"melodify/core/search"
	"melodify/logger"
	"melodify/server"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the music bot",
	Run: func(cmd *cobra.Command, args []string) {
		runBot()
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}

// runBot 组装并运行整套服务：配置、日志、缓存、节点注册表、会话管理器、
// Discord 网关与健康检查 HTTP。
func runBot() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	if cfg.DiscordToken == "" {
		logger.Fatal("DISCORD_TOKEN is not set")
	}

	if err := cache.Connect(cfg); err != nil {
		// 缓存是可选依赖，连不上降级为直连节点解析
		logger.Warn("redis unavailable, search cache disabled", logger.ErrorField(err))
	}
	defer cache.Close()

	registry := lavalink.NewRegistry(cfg.Nodes, cfg.NodePriority, lavalink.Options{
		ReconnectTries:    cfg.ReconnectTries,
		ReconnectInterval: cfg.ReconnectInterval,
		RESTTimeout:       cfg.RESTTimeout,
		NoNodeRetryWait:   cfg.NoNodeRetryWait,
		InstanceID:        uuid.NewString(),
	})

	manager := player.NewManager(bot.NewRegistrySource(registry), player.Config{
		DefaultVolume:    cfg.DefaultVolume,
		IdleTimeout:      cfg.IdleTimeout,
		AutoSkipDelay:    cfg.AutoSkipDelay,
		MoveOnDisconnect: cfg.MoveOnDisconnect,
	})
	registry.SetHandler(manager)

	resolver := search.NewResolver(registry, cache.NewSearchCache(cfg.SearchCacheTTL))

	b, err := bot.New(cfg.DiscordToken, cfg.CommandPrefix, manager, registry, resolver)
	if err != nil {
		logger.Fatal("failed to create bot", logger.ErrorField(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Open(ctx); err != nil {
		logger.Fatal("failed to connect to discord", logger.ErrorField(err))
	}
	defer b.Close()

	// 节点握手需要机器人的平台身份，所以连上网关后再拉起节点
	registry.Start(ctx, b.UserID())

	healthServer := server.New(cfg.HTTPAddr, registry, manager, b)
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server failed", logger.ErrorField(err))
		}
	}()

	logger.Info("melodify started",
		logger.String("prefix", cfg.CommandPrefix),
		logger.Int("nodes", len(cfg.Nodes)))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", logger.ErrorField(err))
	}
}
