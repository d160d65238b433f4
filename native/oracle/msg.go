package oracle

import (
	"nhblease/crypto"
	"nhblease/finance"
	"nhblease/platform"
)

// SwapLeg is one venue pool connecting two currencies, usable both ways.
// EventFeedPrices is emitted by every accepted price feed.
const EventFeedPrices = "oracle-feed-prices"

type SwapLeg struct {
	From   string `json:"from" toml:"from" yaml:"from"`
	To     string `json:"to" toml:"to" yaml:"to"`
	PoolID uint64 `json:"pool_id" toml:"pool_id" yaml:"pool_id"`
}

type InstantiateMsg struct {
	BaseCurrency string         `json:"base_currency"`
	Feeder       crypto.Address `json:"feeder"`
	SwapTree     []SwapLeg      `json:"swap_tree"`
}

type FeedPricesMsg struct {
	Prices []finance.Price `json:"prices"`
}

// Alarm fires once the price of Below's base currency drops under Below.
type Alarm struct {
	Below finance.Price `json:"below"`
}

// ExecuteMsg is the set of oracle commands. Exactly one field is set.
type ExecuteMsg struct {
	FeedPrices       *FeedPricesMsg `json:"feed_prices,omitempty"`
	AddPriceAlarm    *Alarm         `json:"add_price_alarm,omitempty"`
	RemovePriceAlarm *struct{}      `json:"remove_price_alarm,omitempty"`
}

type PriceQuery struct {
	Currency string `json:"currency"`
}

type SwapPathQuery struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// QueryMsg is the set of oracle queries. Exactly one field is set.
type QueryMsg struct {
	Price    *PriceQuery    `json:"price,omitempty"`
	SwapPath *SwapPathQuery `json:"swap_path,omitempty"`
}

type SwapPathResponse struct {
	Routes []platform.SwapRoute `json:"routes"`
}

// PriceAlarmMsg is sent to a subscriber whose alarm fired.
type PriceAlarmMsg struct {
	PriceAlarm struct{} `json:"price_alarm"`
}
