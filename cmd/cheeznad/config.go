package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cheeznad/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "查看配置与管理数据库覆盖项",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "输出生效的配置（不含密钥）",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := setup()
				if err != nil {
					return err
				}
				return printJSON(cfg)
			},
		},
		&cobra.Command{
			Use:   "overrides",
			Short: "列出 engine_config 中的覆盖项",
			RunE: func(cmd *cobra.Command, args []string) error {
				dbConfig, err := openOverrides()
				if err != nil {
					return err
				}
				defer dbConfig.Close()

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				entries, err := dbConfig.ListConfigs(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("没有覆盖项")
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%-26s %s\n", e.Key, e.Value)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "写入一个覆盖项，下次启动时生效",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.ValidateOverride(args[0], args[1]); err != nil {
					return err
				}

				dbConfig, err := openOverrides()
				if err != nil {
					return err
				}
				defer dbConfig.Close()

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := dbConfig.UpdateConfig(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("已写入 %s=%s\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}

func openOverrides() (*config.DatabaseConfig, error) {
	dsn := os.Getenv(config.EnvPrefix + "_DB_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("未设置 %s_DB_DSN", config.EnvPrefix)
	}
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return config.NewDatabaseConfig(dsn, logger)
}
