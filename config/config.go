package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"melodify/model"
)

// Config stores the application configuration. Loaded once at startup and
// read-only afterwards; node behaviour knobs (idle timeout, reconnect policy)
// are deliberately configuration, not constants.
type Config struct {
	// Discord
	DiscordToken  string
	CommandPrefix string

	// 音频节点
	Nodes        []model.NodeConfig
	NodePriority []string // 高可靠节点优先级列表，选点时按序尝试

	// 播放行为
	DefaultVolume    int           // 新会话默认音量
	IdleTimeout      time.Duration // 队列清空后到自动销毁的等待时长
	AutoSkipDelay    time.Duration // 播放错误后自动跳歌的延迟，避免紧密错误循环
	MoveOnDisconnect bool          // 节点断开时是否把活动会话迁移到其他在线节点

	// 节点传输
	ReconnectTries    int
	ReconnectInterval time.Duration
	NoNodeRetryWait   time.Duration // 无可用节点时重试前的等待
	RESTTimeout       time.Duration

	// HTTP 健康检查
	HTTPAddr string

	// Redis（仅用于曲目搜索结果缓存，可不配置）
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	SearchCacheTTL time.Duration

	// 日志
	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as time.Duration or returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
// Missing Discord credentials are a fatal configuration error surfaced by the
// caller; node table problems are fatal here because nothing can run without it.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"), // 凭据不设默认值
		CommandPrefix: getEnv("COMMAND_PREFIX", "!"),

		DefaultVolume:    getEnvInt("DEFAULT_VOLUME", 80),
		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 2*time.Minute),
		AutoSkipDelay:    getEnvDuration("AUTOSKIP_DELAY", time.Second),
		MoveOnDisconnect: getEnvBool("MOVE_ON_DISCONNECT", false),

		ReconnectTries:    getEnvInt("RECONNECT_TRIES", 5),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		NoNodeRetryWait:   getEnvDuration("NO_NODE_RETRY_WAIT", 5*time.Second),
		RESTTimeout:       getEnvDuration("REST_TIMEOUT", 60*time.Second),

		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),

		RedisHost:      getEnv("REDIS_HOST", ""),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		SearchCacheTTL: getEnvDuration("SEARCH_CACHE_TTL", 30*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	nodes, err := loadNodes()
	if err != nil {
		log.Fatalf("Failed to load node configuration: %v", err)
	}
	cfg.Nodes = nodes

	if priority := getEnv("NODE_PRIORITY", ""); priority != "" {
		for _, name := range strings.Split(priority, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.NodePriority = append(cfg.NodePriority, name)
			}
		}
	} else {
		// 未显式配置时按节点声明顺序作为优先级
		for _, n := range nodes {
			cfg.NodePriority = append(cfg.NodePriority, n.Name)
		}
	}

	return cfg
}

// loadNodes 读取音频节点列表：优先 LAVALINK_NODES 环境变量（JSON数组），
// 其次 NODES_FILE 指向的文件，默认 nodes.json。
func loadNodes() ([]model.NodeConfig, error) {
	raw := os.Getenv("LAVALINK_NODES")
	if raw == "" {
		path := getEnv("NODES_FILE", "nodes.json")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		raw = string(data)
	}

	var nodes []model.NodeConfig
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("parse node list: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node list is empty")
	}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Name == "" || n.Address == "" {
			return nil, fmt.Errorf("node entry missing name or address: %+v", n)
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate node name: %s", n.Name)
		}
		seen[n.Name] = true
	}
	return nodes, nil
}
