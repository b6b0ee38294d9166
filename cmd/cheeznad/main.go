package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cheeznad/internal/config"
	"cheeznad/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cheeznad",
		Short: "链上交易区域竞赛引擎",
		Long:  `按协议注册表把新区块中的交易归入五个区域，按回合计分、决出胜者并驱动链上结算`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "环境变量文件，不存在时忽略")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	rootCmd.AddCommand(
		newRunCmd(),
		newRoundsCmd(),
		newRegistryCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadEnv 读取 .env，已存在的环境变量不会被覆盖
func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 %s 失败: %w", envFile, err)
	}
	return nil
}

// setup 加载配置并按配置创建日志
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}
