package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "melodify",
	Short: "Melodify is a multi-node Discord music bot",
	Long: `Melodify is a Discord music bot backed by a pool of Lavalink audio
nodes, with per-guild playback sessions, queue management and automatic
node failover.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 不带子命令时直接跑机器人
		runBot()
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
