package catalog

import "strings"

// Tier identifies a subscription audience.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Asset describes a monitored stablecoin. The reference value is fixed at
// 1.00 USD for every registered asset.
type Asset struct {
	Symbol     string
	Name       string
	ProviderID string
	Backing    string
	Tier       int // 1 = free set, 2 = premium-only
}

// Free tier tracks the largest market caps only.
var tier1Assets = []Asset{
	{Symbol: "USDT", Name: "Tether", ProviderID: "tether", Backing: "Centralized", Tier: 1},
	{Symbol: "USDC", Name: "USD Coin", ProviderID: "usd-coin", Backing: "Centralized", Tier: 1},
	{Symbol: "DAI", Name: "Dai", ProviderID: "dai", Backing: "Decentralized", Tier: 1},
	{Symbol: "USDS", Name: "USDS", ProviderID: "usds", Backing: "Decentralized", Tier: 1},
}

var tier2Assets = []Asset{
	{Symbol: "FRAX", Name: "Frax", ProviderID: "frax", Backing: "Hybrid", Tier: 2},
	{Symbol: "TUSD", Name: "TrueUSD", ProviderID: "true-usd", Backing: "Centralized", Tier: 2},
	{Symbol: "USDP", Name: "Pax Dollar", ProviderID: "paxos-standard", Backing: "Centralized", Tier: 2},
	{Symbol: "PYUSD", Name: "PayPal USD", ProviderID: "paypal-usd", Backing: "Centralized", Tier: 2},
	{Symbol: "LUSD", Name: "Liquity USD", ProviderID: "liquity-usd", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "MIM", Name: "Magic Internet Money", ProviderID: "magic-internet-money", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "GHO", Name: "GHO", ProviderID: "gho", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "DOLA", Name: "Dola USD", ProviderID: "dola-usd", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "USDE", Name: "Ethena USDe", ProviderID: "ethena-usde", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "SUSD", Name: "sUSD", ProviderID: "susd", Backing: "Crypto-backed", Tier: 2},
	{Symbol: "USDD", Name: "USDD", ProviderID: "usdd", Backing: "Algorithmic", Tier: 2},
	{Symbol: "GUSD", Name: "Gemini Dollar", ProviderID: "gemini-dollar", Backing: "Centralized", Tier: 2},
	{Symbol: "FDUSD", Name: "First Digital USD", ProviderID: "first-digital-usd", Backing: "Centralized", Tier: 2},
	{Symbol: "CRVUSD", Name: "Curve.Fi USD", ProviderID: "crvusd", Backing: "Decentralized", Tier: 2},
}

// Catalog is the read-only asset registry shared across components.
type Catalog struct {
	assets   []Asset
	bySymbol map[string]Asset
	byID     map[string]Asset
}

// NewDefault builds the catalog from the built-in tier lists.
func NewDefault() *Catalog {
	return New(append(append([]Asset{}, tier1Assets...), tier2Assets...))
}

// New builds a catalog from an explicit asset list.
func New(assets []Asset) *Catalog {
	c := &Catalog{
		assets:   assets,
		bySymbol: make(map[string]Asset, len(assets)),
		byID:     make(map[string]Asset, len(assets)),
	}
	for _, a := range assets {
		c.bySymbol[strings.ToUpper(a.Symbol)] = a
		c.byID[a.ProviderID] = a
	}
	return c
}

// All returns every registered asset, the union of all tier sets.
func (c *Catalog) All() []Asset {
	out := make([]Asset, len(c.assets))
	copy(out, c.assets)
	return out
}

// ForTier returns the asset set watched at the given audience tier. Premium
// and enterprise audiences watch the full set; free watches tier 1 only.
func (c *Catalog) ForTier(tier Tier) []Asset {
	if tier != TierFree {
		return c.All()
	}
	out := make([]Asset, 0, len(c.assets))
	for _, a := range c.assets {
		if a.Tier == 1 {
			out = append(out, a)
		}
	}
	return out
}

// BySymbol looks up an asset by its symbol, case-insensitively.
func (c *Catalog) BySymbol(symbol string) (Asset, bool) {
	a, ok := c.bySymbol[strings.ToUpper(symbol)]
	return a, ok
}

// ByProviderID looks up an asset by its market-data provider identifier.
func (c *Catalog) ByProviderID(id string) (Asset, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// ProviderIDs extracts the provider identifiers for a set of assets.
func ProviderIDs(assets []Asset) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ProviderID)
	}
	return ids
}

// Tiers returns the audience tiers an asset is visible to.
func (a Asset) Tiers() []Tier {
	if a.Tier == 1 {
		return []Tier{TierFree, TierPremium}
	}
	return []Tier{TierPremium}
}
