package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress string     `toml:"ListenAddress" yaml:"listen"`
	DataDir       string     `toml:"DataDir" yaml:"data_dir"`
	Environment   string     `toml:"Environment" yaml:"environment"`
	LogFile       string     `toml:"LogFile" yaml:"log_file"`
	Journal       Journal    `toml:"journal" yaml:"journal"`
	Auth          Auth       `toml:"auth" yaml:"auth"`
	RateLimit     RateLimit  `toml:"rate_limit" yaml:"rate_limit"`
	Currencies    []Currency `toml:"currencies" yaml:"currencies"`
	Pool          Pool       `toml:"pool" yaml:"pool"`
	Lease         LeaseTerms `toml:"lease" yaml:"lease"`
	Dex           Dex        `toml:"dex" yaml:"dex"`
	Oracle        Oracle     `toml:"oracle" yaml:"oracle"`
	Keeper        Keeper     `toml:"keeper" yaml:"keeper"`
	Telemetry     Telemetry  `toml:"telemetry" yaml:"telemetry"`
	Pauses        Pauses     `toml:"pauses" yaml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// created with the defaults. Files ending in .yaml or .yml are read as YAML,
// anything else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Default is the configuration of a local development daemon.
func Default() *Config {
	cfg := &Config{
		ListenAddress: ":8090",
		DataDir:       "./lease-data",
		Environment:   "dev",
		Currencies: []Currency{
			{Ticker: "USDC", DexSymbol: "ibc/usdc", Group: "lpn"},
			{Ticker: "ATOM", DexSymbol: "ibc/atom", Group: "lease"},
			{Ticker: "NLS", DexSymbol: "unls", Group: "native"},
		},
		Pool: Pool{Lpn: "USDC", AnnualRate: 100, Liquidity: 1_000_000_000_000},
		Lease: LeaseTerms{
			MarginRate:  30,
			DuePeriod:   Duration{30 * 24 * time.Hour},
			GracePeriod: Duration{10 * 24 * time.Hour},
			Profit:      "nhb1wpex7enfwskkzerywfjhxuedxqcrqvp3kp9s06",
			Liability: Liability{
				Initial:    650,
				Healthy:    700,
				FirstWarn:  730,
				SecondWarn: 750,
				ThirdWarn:  780,
				Max:        800,
				RecalcTime: Duration{time.Hour},
			},
		},
		Dex: Dex{
			ConnectionID:  "connection-0",
			LocalChannel:  "channel-0",
			RemoteChannel: "channel-1",
			TxTimeout:     Duration{time.Minute},
			TipCurrency:   "NLS",
			AckTip:        1,
			TimeoutTip:    1,
		},
		Oracle: Oracle{
			Feeder:   "nhb1vejk2er9wgkkzerywfjhxuedxqcrqvp3h3vunh",
			SwapTree: []SwapLeg{{From: "ATOM", To: "USDC", PoolID: 1}},
		},
	}
	normalize(cfg)
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lease-data"
	}
	if strings.TrimSpace(cfg.Journal.DSN) == "" {
		cfg.Journal.DSN = filepath.Join(cfg.DataDir, "journal.sqlite")
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Lease.Liability.RecalcTime.Duration <= 0 {
		cfg.Lease.Liability.RecalcTime.Duration = time.Hour
	}
	if cfg.Dex.TxTimeout.Duration <= 0 {
		cfg.Dex.TxTimeout.Duration = time.Minute
	}
	if cfg.Keeper.Interval.Duration <= 0 {
		cfg.Keeper.Interval.Duration = time.Second
	}
	if cfg.Keeper.MaxAlarms == 0 {
		cfg.Keeper.MaxAlarms = 64
	}
	if cfg.Currencies == nil {
		cfg.Currencies = []Currency{}
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
