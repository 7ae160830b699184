package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"melodify/config"
	"melodify/core/lavalink"
	"melodify/logger"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Probe the configured audio nodes and print their status",
	Run: func(cmd *cobra.Command, args []string) {
		probeNodes()
	},
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}

// probeNodes 一次性探活：拉起全部节点连接，等一个握手窗口后打印状态。
func probeNodes() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: "warn"})

	registry := lavalink.NewRegistry(cfg.Nodes, cfg.NodePriority, lavalink.Options{
		ReconnectTries:    1,
		ReconnectInterval: time.Second,
		RESTTimeout:       cfg.RESTTimeout,
		NoNodeRetryWait:   cfg.NoNodeRetryWait,
		InstanceID:        uuid.NewString(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 探活不代表任何机器人身份，节点只要求头部存在
	registry.Start(ctx, "0")
	time.Sleep(5 * time.Second)

	fmt.Printf("%-16s %-14s %-8s %s\n", "NODE", "STATE", "ONLINE", "PLAYERS")
	for _, st := range registry.ListNodes() {
		players := "-"
		if st.Stats != nil {
			players = fmt.Sprintf("%d/%d", st.Stats.PlayingPlayers, st.Stats.Players)
		}
		fmt.Printf("%-16s %-14s %-8t %s\n", st.Name, st.State, st.Online, players)
	}
}
