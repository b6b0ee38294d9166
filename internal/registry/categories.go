package registry

import "cheeznad/pkg/models"

// categoryZones 协议分类 "类型::子类型" 到区域的固定映射，表外分类计为 skipped
var categoryZones = map[string]models.Zone{
	// DEX 与交易
	"DeFi::DEX":                      models.ZonePepperoni,
	"DeFi::DEX Aggregator":           models.ZonePepperoni,
	"DeFi::Trading Interfaces":       models.ZonePepperoni,
	"DeFi::Perpetuals / Derivatives": models.ZonePepperoni,
	"DeFi::Stableswap":               models.ZonePepperoni,
	"DeFi::Options":                  models.ZonePepperoni,
	"DeFi::Prime Brokerage":          models.ZonePepperoni,
	"DeFi::Synthetics":               models.ZonePepperoni,
	"DeFi::Intents":                  models.ZonePepperoni,

	// 借贷与质押
	"DeFi::Lending":                  models.ZoneMushroom,
	"DeFi::Liquid Staking":           models.ZoneMushroom,
	"DeFi::Staking":                  models.ZoneMushroom,
	"DeFi::Yield":                    models.ZoneMushroom,
	"DeFi::Yield Aggregator":         models.ZoneMushroom,
	"DeFi::Leveraged Farming":        models.ZoneMushroom,
	"DeFi::CDP":                      models.ZoneMushroom,
	"DeFi::Asset Issuers":            models.ZoneMushroom,
	"DeFi::Uncollateralized Lending": models.ZoneMushroom,
	"DeFi::Asset Allocators":         models.ZoneMushroom,
	"DeFi::Insurance":                models.ZoneMushroom,
	"DeFi::Reserve Currency":         models.ZoneMushroom,
	"DeFi::RWA":                      models.ZoneMushroom,
	"DeFi::Stablecoin":               models.ZoneMushroom,
	"DeFi::Indexes":                  models.ZoneMushroom,
	"DeFi::Other":                    models.ZoneMushroom,

	// Meme 与发射台
	"DeFi::Launchpads": models.ZonePineapple,
	"DeFi::Memecoin":   models.ZonePineapple,

	// 基础设施
	"Infra::Oracle":               models.ZoneOlive,
	"Infra::Interoperability":     models.ZoneOlive,
	"Infra::RPC":                  models.ZoneOlive,
	"Infra::Indexing":             models.ZoneOlive,
	"Infra::Developer Tooling":    models.ZoneOlive,
	"Infra::AA":                   models.ZoneOlive,
	"Infra::Automation":           models.ZoneOlive,
	"Infra::Analytics":            models.ZoneOlive,
	"Infra::Identity":             models.ZoneOlive,
	"Infra::Privacy / Encryption": models.ZoneOlive,
	"Infra::Wallet":               models.ZoneOlive,
	"Infra::ZK":                   models.ZoneOlive,
	"Infra::Gaming":               models.ZoneOlive,
	"Infra::Other":                models.ZoneOlive,
	"DeFi::Cross Chain":           models.ZoneOlive,
	"DeFi::MEV":                   models.ZoneOlive,

	// 游戏、社交、AI、NFT、消费
	"Gaming::Games":                    models.ZoneAnchovy,
	"Gaming::Metaverse":                models.ZoneAnchovy,
	"Gaming::Mobile-First":             models.ZoneAnchovy,
	"Gaming::Infrastructure":           models.ZoneAnchovy,
	"Gaming::Other":                    models.ZoneAnchovy,
	"Consumer::Betting":                models.ZoneAnchovy,
	"Consumer::Prediction Market":      models.ZoneAnchovy,
	"Consumer::Social":                 models.ZoneAnchovy,
	"Consumer::E-commerce / Ticketing": models.ZoneAnchovy,
	"Consumer::Other":                  models.ZoneAnchovy,
	"AI::Agent Launchpad":              models.ZoneAnchovy,
	"AI::Abstraction Infrastructure":   models.ZoneAnchovy,
	"AI::Consumer AI":                  models.ZoneAnchovy,
	"AI::Data":                         models.ZoneAnchovy,
	"AI::Compute":                      models.ZoneAnchovy,
	"AI::Inference":                    models.ZoneAnchovy,
	"AI::Gaming":                       models.ZoneAnchovy,
	"AI::Infrastructure":               models.ZoneAnchovy,
	"AI::Investing":                    models.ZoneAnchovy,
	"AI::Models":                       models.ZoneAnchovy,
	"AI::Trading Agent":                models.ZoneAnchovy,
	"AI::Other":                        models.ZoneAnchovy,
	"NFT::Collections":                 models.ZoneAnchovy,
	"NFT::Infrastructure":              models.ZoneAnchovy,
	"NFT::Interoperability":            models.ZoneAnchovy,
	"NFT::Marketplace":                 models.ZoneAnchovy,
	"NFT::NFTFi":                       models.ZoneAnchovy,
	"NFT::Other":                       models.ZoneAnchovy,
	"DePIN::Spatial Intelligence":      models.ZoneAnchovy,
	"DePIN::CDN":                       models.ZoneAnchovy,
	"DePIN::Compute":                   models.ZoneAnchovy,
	"DePIN::Data Collection":           models.ZoneAnchovy,
	"DePIN::Data Labelling":            models.ZoneAnchovy,
	"DePIN::Mapping":                   models.ZoneAnchovy,
	"DePIN::Monitoring Networks":       models.ZoneAnchovy,
	"DePIN::Storage":                   models.ZoneAnchovy,
	"DePIN::Wireless Network":          models.ZoneAnchovy,
	"DePIN::Other":                     models.ZoneAnchovy,
	"DeSci::Other":                     models.ZoneAnchovy,
	"Governance::Delegation":           models.ZoneAnchovy,
	"Governance::Risk Management":      models.ZoneAnchovy,
	"Governance::Other":                models.ZoneAnchovy,
	"Payments::Credit Cards":           models.ZoneAnchovy,
	"Payments::Onramp and Offramps":    models.ZoneAnchovy,
	"Payments::Neobanks":               models.ZoneAnchovy,
	"Payments::Orchestration":          models.ZoneAnchovy,
	"Payments::Remittance":             models.ZoneAnchovy,
	"Payments::Other":                  models.ZoneAnchovy,
	"CeFi::CEX":                        models.ZoneAnchovy,
	"CeFi::Institutional Trading":      models.ZoneAnchovy,
	"CeFi::Other":                      models.ZoneAnchovy,
}

// ResolveZone 按分类查区域
func ResolveZone(category string) (models.Zone, bool) {
	zone, ok := categoryZones[category]
	return zone, ok
}

// Category 拼接分类键
func Category(ctype, csubtype string) string {
	return ctype + "::" + csubtype
}
