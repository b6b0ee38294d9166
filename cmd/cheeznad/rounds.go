package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cheeznad/internal/store"
	"cheeznad/pkg/models"

	"github.com/spf13/cobra"
)

func newRoundsCmd() *cobra.Command {
	var (
		limit     int
		winners   bool
		completed bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "查看已保存的回合",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			st, err := store.Open(ctx, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("打开存储失败: %w", err)
			}
			defer st.Close()

			if winners {
				list, err := st.PastWinners(ctx, limit)
				if err != nil {
					return fmt.Errorf("查询历史胜者失败: %w", err)
				}
				if asJSON {
					return printJSON(list)
				}
				printWinners(list)
				return nil
			}

			rounds, err := st.QueryRecentRounds(ctx, limit, completed)
			if err != nil {
				return fmt.Errorf("查询最近回合失败: %w", err)
			}
			if asJSON {
				return printJSON(rounds)
			}
			printRounds(rounds)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "返回条数")
	cmd.Flags().BoolVar(&winners, "winners", false, "只列出历史胜者")
	cmd.Flags().BoolVar(&completed, "completed", false, "只列出已决出胜者的回合")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWinners(list []*models.PastWinner) {
	if len(list) == 0 {
		fmt.Println("还没有决出胜者的回合")
		return
	}
	for _, w := range list {
		fmt.Printf("#%-6d %-10s %s\n", w.RoundNumber, w.WinnerZone, w.EndedAt.Local().Format(time.DateTime))
	}
}

func printRounds(rounds []*models.PersistedRound) {
	if len(rounds) == 0 {
		fmt.Println("还没有回合记录")
		return
	}

	for _, r := range rounds {
		winner := "进行中"
		if r.Resolved() {
			winner = string(*r.WinnerZone)
		}
		fmt.Printf("#%-6d %s  胜者: %-10s 分类交易: %d\n",
			r.RoundNumber, r.StartedAt.Local().Format(time.DateTime), winner, r.TotalClassifiedTxns)

		parts := make([]string, 0, len(models.AllZones))
		for _, z := range models.AllZones {
			s := r.Stat(z)
			if s == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s %d×%.2f=%.2f", z, s.TxCount, s.Multiplier, s.WeightedScore))
		}
		if len(parts) > 0 {
			fmt.Printf("        %s\n", strings.Join(parts, "  "))
		}
	}
}
