package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so both TOML and YAML files can use human
// readable values such as "30s" or "720h".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(raw string) error {
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Journal selects the SQL store of the event journal. DSNs starting with
// postgres:// use PostgreSQL, anything else is a SQLite path or DSN.
type Journal struct {
	DSN       string `toml:"DSN" yaml:"dsn"`
	ExportDir string `toml:"ExportDir" yaml:"export_dir"`
}

// Auth guards the operator endpoints with HMAC signed bearer tokens. An
// empty HMACSecret is resolved at startup from LEASED_HMAC_SECRET.
type Auth struct {
	Enabled    bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret string   `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer     string   `toml:"Issuer" yaml:"issuer"`
	Audience   string   `toml:"Audience" yaml:"audience"`
	ClockSkew  Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

type Currency struct {
	Ticker    string `toml:"Ticker" yaml:"ticker"`
	DexSymbol string `toml:"DexSymbol" yaml:"dex_symbol"`
	Group     string `toml:"Group" yaml:"group"`
}

// Pool configures the in-process liquidity pool. AnnualRate is in permille.
type Pool struct {
	Lpn        string `toml:"Lpn" yaml:"lpn"`
	AnnualRate uint32 `toml:"AnnualRate" yaml:"annual_rate"`
	Liquidity  uint64 `toml:"Liquidity" yaml:"liquidity"`
}

// Liability thresholds are loan-to-value ratios in permille.
type Liability struct {
	Initial    uint32   `toml:"Initial" yaml:"initial"`
	Healthy    uint32   `toml:"Healthy" yaml:"healthy"`
	FirstWarn  uint32   `toml:"FirstWarn" yaml:"first_warn"`
	SecondWarn uint32   `toml:"SecondWarn" yaml:"second_warn"`
	ThirdWarn  uint32   `toml:"ThirdWarn" yaml:"third_warn"`
	Max        uint32   `toml:"Max" yaml:"max"`
	RecalcTime Duration `toml:"RecalcTime" yaml:"recalc_time"`
}

// LeaseTerms are applied to every lease opened through the API.
type LeaseTerms struct {
	MarginRate  uint32    `toml:"MarginRate" yaml:"margin_rate"`
	DuePeriod   Duration  `toml:"DuePeriod" yaml:"due_period"`
	GracePeriod Duration  `toml:"GracePeriod" yaml:"grace_period"`
	Profit      string    `toml:"Profit" yaml:"profit"`
	Liability   Liability `toml:"liability" yaml:"liability"`
	Quota       Quota     `toml:"quota" yaml:"quota"`
}

// Quota caps the leases one customer opens per epoch. Zero limits are not
// enforced.
type Quota struct {
	MaxLeasesPerEpoch      uint32   `toml:"MaxLeasesPerEpoch" yaml:"max_leases_per_epoch"`
	MaxDownpaymentPerEpoch uint64   `toml:"MaxDownpaymentPerEpoch" yaml:"max_downpayment_per_epoch"`
	Epoch                  Duration `toml:"Epoch" yaml:"epoch"`
}

// Dex is the interchain connection to the trading venue.
type Dex struct {
	ConnectionID  string   `toml:"ConnectionID" yaml:"connection_id"`
	LocalChannel  string   `toml:"LocalChannel" yaml:"local_channel"`
	RemoteChannel string   `toml:"RemoteChannel" yaml:"remote_channel"`
	TxTimeout     Duration `toml:"TxTimeout" yaml:"tx_timeout"`
	TipCurrency   string   `toml:"TipCurrency" yaml:"tip_currency"`
	AckTip        uint64   `toml:"AckTip" yaml:"ack_tip"`
	TimeoutTip    uint64   `toml:"TimeoutTip" yaml:"timeout_tip"`
}

type SwapLeg struct {
	From   string `toml:"From" yaml:"from"`
	To     string `toml:"To" yaml:"to"`
	PoolID uint64 `toml:"PoolID" yaml:"pool_id"`
}

type Oracle struct {
	Feeder   string    `toml:"Feeder" yaml:"feeder"`
	SwapTree []SwapLeg `toml:"swap_tree" yaml:"swap_tree"`
}

// Keeper drives the clock, alarm dispatch and venue relaying.
type Keeper struct {
	Interval  Duration `toml:"Interval" yaml:"interval"`
	MaxAlarms uint32   `toml:"MaxAlarms" yaml:"max_alarms"`
}

type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`

	// SampleRatio keeps a share of root spans; zero keeps all of them.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}
