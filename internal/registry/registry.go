package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"cheeznad/pkg/models"
)

// Entry 注册表条目，地址已转为小写
type Entry struct {
	Address      string      `json:"address"`
	Zone         models.Zone `json:"zoneId"`
	ProtocolName string      `json:"protocolName"`
	ContractName string      `json:"contractName"`
	Category     string      `json:"category"`
}

// LoadStats 加载结果统计
type LoadStats struct {
	Loaded     int               `json:"loaded"`     // 写入注册表的行数
	Skipped    int               `json:"skipped"`    // 分类不在映射表中
	Malformed  int               `json:"malformed"`  // 字段不足或无法解析
	BadPrefix  int               `json:"bad_prefix"` // 地址前缀不符
	Duplicates int               `json:"duplicates"` // 后出现的行覆盖了先前的地址
	ByZone     models.ZoneCounts `json:"by_zone"`
}

// Lookup 按地址查注册表
type Lookup interface {
	Lookup(address string) (*Entry, bool)
}

// Registry 地址到区域的只读映射，构建完成后不再修改，并发读不需要加锁
type Registry struct {
	entries map[string]*Entry
	stats   LoadStats
}

// New 由条目构建注册表，相同地址后者覆盖前者
func New(entries []*Entry) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry, len(entries)),
		stats:   LoadStats{ByZone: models.NewZoneCounts()},
	}
	for _, e := range entries {
		r.insert(e)
	}
	return r
}

func (r *Registry) insert(e *Entry) {
	key := strings.ToLower(e.Address)
	e.Address = key
	if prev, ok := r.entries[key]; ok {
		r.stats.Duplicates++
		r.stats.ByZone[prev.Zone]--
		r.stats.Loaded--
	}
	r.entries[key] = e
	r.stats.ByZone[e.Zone]++
	r.stats.Loaded++
}

// Parse 解析协议 CSV：name,ctype,csubtype,contract,address[,...]，第一行为表头
func Parse(reader io.Reader, addressPrefix string) (*Registry, error) {
	if addressPrefix == "" {
		addressPrefix = "0x"
	}
	addressPrefix = strings.ToLower(addressPrefix)

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	r := New(nil)
	header := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.stats.Malformed++
				continue
			}
			return nil, fmt.Errorf("读取注册表失败: %w", err)
		}
		if header {
			header = false
			continue
		}
		if isBlank(record) {
			continue
		}
		if len(record) < 5 {
			r.stats.Malformed++
			continue
		}

		address := strings.ToLower(strings.TrimSpace(record[4]))
		if !strings.HasPrefix(address, addressPrefix) {
			r.stats.BadPrefix++
			continue
		}

		category := Category(strings.TrimSpace(record[1]), strings.TrimSpace(record[2]))
		zone, ok := ResolveZone(category)
		if !ok {
			r.stats.Skipped++
			continue
		}

		r.insert(&Entry{
			Address:      address,
			Zone:         zone,
			ProtocolName: strings.TrimSpace(record[0]),
			ContractName: strings.TrimSpace(record[3]),
			Category:     category,
		})
	}

	return r, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// Lookup 大小写不敏感的 O(1) 查询
func (r *Registry) Lookup(address string) (*Entry, bool) {
	if r == nil || address == "" {
		return nil, false
	}
	e, ok := r.entries[strings.ToLower(address)]
	return e, ok
}

// Size 注册地址数
func (r *Registry) Size() int {
	return len(r.entries)
}

// Stats 加载统计的副本
func (r *Registry) Stats() LoadStats {
	s := r.stats
	s.ByZone = models.NewZoneCounts()
	for z, n := range r.stats.ByZone {
		s.ByZone[z] = n
	}
	return s
}

// Breakdown 每个区域的地址数，按固定顺序拼接，用于日志
func (r *Registry) Breakdown() string {
	parts := make([]string, 0, len(models.AllZones))
	for _, z := range models.AllZones {
		parts = append(parts, fmt.Sprintf("%s:%d", z, r.stats.ByZone[z]))
	}
	return strings.Join(parts, "  ")
}

// Entries 所有条目（无序）
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
