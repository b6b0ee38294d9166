package models

import (
	"fmt"
	"strings"
)

// Zone 区域标识
type Zone string

const (
	ZonePepperoni Zone = "pepperoni" // DEX 与交易
	ZoneMushroom  Zone = "mushroom"  // 借贷与质押
	ZonePineapple Zone = "pineapple" // Meme 与发射台
	ZoneOlive     Zone = "olive"     // 基础设施
	ZoneAnchovy   Zone = "anchovy"   // 游戏、社交、AI、NFT、消费
)

// AllZones 固定的区域顺序，同时也是合约中的枚举顺序
var AllZones = []Zone{
	ZonePepperoni,
	ZoneMushroom,
	ZonePineapple,
	ZoneOlive,
	ZoneAnchovy,
}

var zoneLabels = map[Zone]string{
	ZonePepperoni: "DEX",
	ZoneMushroom:  "LEND",
	ZonePineapple: "MEME",
	ZoneOlive:     "INFRA",
	ZoneAnchovy:   "GAME",
}

// Index 返回区域在固定顺序中的位置，未知区域返回 -1
func (z Zone) Index() int {
	for i, zone := range AllZones {
		if zone == z {
			return i
		}
	}
	return -1
}

// Valid 是否为已知区域
func (z Zone) Valid() bool {
	return z.Index() >= 0
}

// ContractEnum 结算合约中的区域编码
func (z Zone) ContractEnum() (uint8, error) {
	idx := z.Index()
	if idx < 0 {
		return 0, fmt.Errorf("未知区域: %q", string(z))
	}
	return uint8(idx), nil
}

// Label 简短标签，用于日志
func (z Zone) Label() string {
	if label, ok := zoneLabels[z]; ok {
		return label
	}
	return strings.ToUpper(string(z))
}

func (z Zone) String() string {
	return string(z)
}

// ParseZone 解析区域名称（不区分大小写）
func ParseZone(s string) (Zone, error) {
	z := Zone(strings.ToLower(strings.TrimSpace(s)))
	if !z.Valid() {
		return "", fmt.Errorf("未知区域: %q", s)
	}
	return z, nil
}

// ZoneFromEnum 由合约编码还原区域
func ZoneFromEnum(enum uint8) (Zone, error) {
	if int(enum) >= len(AllZones) {
		return "", fmt.Errorf("无效的区域编码: %d", enum)
	}
	return AllZones[enum], nil
}

// ZoneCounts 每个区域的计数
type ZoneCounts map[Zone]int

// NewZoneCounts 所有区域初始化为0
func NewZoneCounts() ZoneCounts {
	counts := make(ZoneCounts, len(AllZones))
	for _, z := range AllZones {
		counts[z] = 0
	}
	return counts
}

// Total 所有区域之和
func (c ZoneCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// NeutralMultipliers 全部为 1.0 的乘数表
func NeutralMultipliers() map[Zone]float64 {
	m := make(map[Zone]float64, len(AllZones))
	for _, z := range AllZones {
		m[z] = 1.0
	}
	return m
}
