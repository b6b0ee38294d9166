package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cheeznad/internal/registry"
	"cheeznad/pkg/models"

	"github.com/spf13/cobra"
)

func newRegistryCmd() *cobra.Command {
	var (
		zone   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "registry [address...]",
		Short: "加载协议注册表并查询地址所属区域",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			reg, err := registry.NewLoader(cfg.Registry, cfg.Chain.AddressPrefix, logger).Load(ctx)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return lookupAddresses(reg, args, asJSON)
			}

			if zone != "" {
				z, err := models.ParseZone(zone)
				if err != nil {
					return err
				}
				return listZone(reg, z, asJSON)
			}

			stats := reg.Stats()
			if asJSON {
				return printJSON(stats)
			}
			fmt.Printf("地址: %d  跳过: %d  格式错误: %d  前缀不符: %d  重复: %d\n",
				stats.Loaded, stats.Skipped, stats.Malformed, stats.BadPrefix, stats.Duplicates)
			fmt.Println(reg.Breakdown())
			return nil
		},
	}

	cmd.Flags().StringVar(&zone, "zone", "", "列出某个区域的全部地址")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func lookupAddresses(reg *registry.Registry, addresses []string, asJSON bool) error {
	found := make(map[string]*registry.Entry, len(addresses))
	for _, addr := range addresses {
		e, ok := reg.Lookup(addr)
		if asJSON {
			found[addr] = e
			continue
		}
		if !ok {
			fmt.Printf("%s  未收录\n", addr)
			continue
		}
		fmt.Printf("%s  %-10s %s / %s (%s)\n", addr, e.Zone, e.ProtocolName, e.ContractName, e.Category)
	}
	if asJSON {
		return printJSON(found)
	}
	return nil
}

func listZone(reg *registry.Registry, zone models.Zone, asJSON bool) error {
	var entries []*registry.Entry
	for _, e := range reg.Entries() {
		if e.Zone == zone {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProtocolName != entries[j].ProtocolName {
			return entries[i].ProtocolName < entries[j].ProtocolName
		}
		return entries[i].Address < entries[j].Address
	})

	if asJSON {
		return printJSON(entries)
	}
	for _, e := range entries {
		fmt.Printf("%s  %s / %s\n", e.Address, e.ProtocolName, e.ContractName)
	}
	fmt.Printf("共 %d 个地址\n", len(entries))
	return nil
}
