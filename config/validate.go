package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

var groups = map[string]struct{}{"lpn": {}, "lease": {}, "native": {}}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("%w: listen address required", ErrInvalidConfig)
	}
	if len(cfg.Currencies) == 0 {
		return fmt.Errorf("%w: at least one currency must be configured", ErrInvalidConfig)
	}
	tickers := make(map[string]string, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		if c.Ticker == "" || c.DexSymbol == "" {
			return fmt.Errorf("%w: currency needs a ticker and a dex symbol", ErrInvalidConfig)
		}
		if _, ok := groups[c.Group]; !ok {
			return fmt.Errorf("%w: currency %s has unknown group %q", ErrInvalidConfig, c.Ticker, c.Group)
		}
		if _, dup := tickers[c.Ticker]; dup {
			return fmt.Errorf("%w: duplicate currency %s", ErrInvalidConfig, c.Ticker)
		}
		tickers[c.Ticker] = c.Group
	}
	if tickers[cfg.Pool.Lpn] != "lpn" {
		return fmt.Errorf("%w: pool currency %q is not an lpn currency", ErrInvalidConfig, cfg.Pool.Lpn)
	}
	if _, ok := tickers[cfg.Dex.TipCurrency]; !ok {
		return fmt.Errorf("%w: unknown tip currency %q", ErrInvalidConfig, cfg.Dex.TipCurrency)
	}
	if cfg.Dex.ConnectionID == "" || cfg.Dex.LocalChannel == "" || cfg.Dex.RemoteChannel == "" {
		return fmt.Errorf("%w: dex connection and channels required", ErrInvalidConfig)
	}
	if cfg.Lease.DuePeriod.Duration <= 0 {
		return fmt.Errorf("%w: lease due period must be positive", ErrInvalidConfig)
	}
	l := cfg.Lease.Liability
	if !(l.Initial > 0 && l.Initial <= l.Healthy && l.Healthy < l.FirstWarn &&
		l.FirstWarn < l.SecondWarn && l.SecondWarn < l.ThirdWarn && l.ThirdWarn < l.Max && l.Max < 1000) {
		return fmt.Errorf("%w: liability thresholds must increase below 1000", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Lease.Profit) == "" || strings.TrimSpace(cfg.Oracle.Feeder) == "" {
		return fmt.Errorf("%w: profit and feeder addresses required", ErrInvalidConfig)
	}
	for _, leg := range cfg.Oracle.SwapTree {
		if _, ok := tickers[leg.From]; !ok {
			return fmt.Errorf("%w: swap leg from unknown currency %q", ErrInvalidConfig, leg.From)
		}
		if _, ok := tickers[leg.To]; !ok {
			return fmt.Errorf("%w: swap leg to unknown currency %q", ErrInvalidConfig, leg.To)
		}
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret != "" && len(strings.TrimSpace(cfg.Auth.HMACSecret)) < 16 {
		return fmt.Errorf("%w: hmac secret shorter than 16 bytes", ErrInvalidConfig)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: telemetry sample ratio must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}
