// Package main pilot-agent 入口
//
// run 启动桥接和组件；component 是进程隔离模式下子进程的入口；
// submit 把任务描述放入入口队列；bridges 打印地址目录。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pilot-runtime/internal/config"
	"pilot-runtime/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "pilot-agent",
	Short:         "Pilot agent - component runtime for pilot jobs",
	Long:          `pilot-agent runs the pilot's component pipeline: bridges, scheduler, stagers, executor and state workers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configDir != "" {
			config.SetConfigDir(configDir)
		}
	},
}

var (
	configPath string
	configDir  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file; overrides the layered configs/common.yaml + configs/{APP_ENV}.yaml")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding common.yaml and {APP_ENV}.yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(componentCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(bridgesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig --config 优先，否则按 APP_ENV 分层加载
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(), nil
}

func newLogger(cfg *config.Config, component string) *logging.Logger {
	return logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: component,
	})
}
