// Package config loads the engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/moveflow/vault-engine/internal/contract"
	"github.com/moveflow/vault-engine/internal/model"
)

// Movement testnet deployment.
const (
	DefaultNodeURL       = "https://testnet.movementnetwork.xyz/v1"
	DefaultModuleAddress = "0xc227292511a7df4b728b91a03077b5556583fcc979c36e1043bbe7b102273857"
)

var ErrInvalid = errors.New("config: invalid")

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Chain struct {
		NodeURLs       []string      `yaml:"node_urls" validate:"min=1,dive,url"`
		ModuleAddress  string        `yaml:"module_address" validate:"required"`
		VaultAddress   string        `yaml:"vault_address" validate:"required"`
		RouterAddress  string        `yaml:"router_address" validate:"required"`
		RewardsAddress string        `yaml:"rewards_address"`
		CoinType       string        `yaml:"coin_type"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"chain"`

	Refresh struct {
		VaultInterval   time.Duration `yaml:"vault_interval"`
		RouterInterval  time.Duration `yaml:"router_interval"`
		MaxRetries      uint64        `yaml:"max_retries"`
		MaxWatched      int           `yaml:"max_watched" validate:"min=0"`
		WatchIdle       time.Duration `yaml:"watch_idle"`
		ReadConcurrency int           `yaml:"read_concurrency" validate:"min=0"`
	} `yaml:"refresh"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		APIURL   string `yaml:"api_url" validate:"omitempty,url"`
	} `yaml:"telegram"`

	Anthropic struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"anthropic"`

	Database struct {
		URL        string `yaml:"url"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Redis struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Fees struct {
		WithdrawalBps int `yaml:"withdrawal_bps" validate:"min=0,max=10000"`
	} `yaml:"fees"`

	// Protocols override or extend the built-in catalog by id.
	Protocols []model.Protocol `yaml:"protocols" validate:"dive"`
	// Strategies seed the table when nothing has been persisted yet.
	Strategies []model.Strategy `yaml:"strategies" validate:"dive"`

	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Fees.WithdrawalBps = -1

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := map[string]*string{
		"PORT":               &c.Server.Port,
		"LOG_LEVEL":          &c.LogLevel,
		"MODULE_ADDRESS":     &c.Chain.ModuleAddress,
		"VAULT_ADDRESS":      &c.Chain.VaultAddress,
		"ROUTER_ADDRESS":     &c.Chain.RouterAddress,
		"REWARDS_ADDRESS":    &c.Chain.RewardsAddress,
		"COIN_TYPE":          &c.Chain.CoinType,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_API_URL":   &c.Telegram.APIURL,
		"ANTHROPIC_API_KEY":  &c.Anthropic.APIKey,
		"ANTHROPIC_MODEL":    &c.Anthropic.Model,
		"DATABASE_URL":       &c.Database.URL,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"REDIS_URL":          &c.Redis.URL,
		"HTTPS_PROXY":        &c.Proxy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MOVEMENT_RPC_URL"); v != "" {
		c.Chain.NodeURLs = splitList(v)
	}

	durations := map[string]*time.Duration{
		"CHAIN_TIMEOUT":           &c.Chain.Timeout,
		"VAULT_REFRESH_INTERVAL":  &c.Refresh.VaultInterval,
		"ROUTER_REFRESH_INTERVAL": &c.Refresh.RouterInterval,
		"WATCH_IDLE":              &c.Refresh.WatchIdle,
		"REDIS_TTL":               &c.Redis.TTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				slog.Warn("ignoring invalid duration", "env", key, "value", v)
				continue
			}
			*dst = d
		}
	}

	if v := os.Getenv("WITHDRAWAL_FEE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fees.WithdrawalBps = n
		} else {
			slog.Warn("ignoring invalid WITHDRAWAL_FEE_BPS", "value", v)
		}
	}
	if v := os.Getenv("MAX_WATCHED_ADDRESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Refresh.MaxWatched = n
		} else {
			slog.Warn("ignoring invalid MAX_WATCHED_ADDRESSES", "value", v)
		}
	}
	if v := os.Getenv("REFRESH_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Refresh.MaxRetries = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Chain.NodeURLs) == 0 {
		c.Chain.NodeURLs = []string{DefaultNodeURL}
	}
	if c.Chain.ModuleAddress == "" {
		c.Chain.ModuleAddress = DefaultModuleAddress
	}
	if c.Chain.VaultAddress == "" {
		c.Chain.VaultAddress = c.Chain.ModuleAddress
	}
	if c.Chain.RouterAddress == "" {
		c.Chain.RouterAddress = c.Chain.ModuleAddress
	}
	if c.Chain.CoinType == "" {
		c.Chain.CoinType = contract.AptosCoin
	}
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = 10 * time.Second
	}
	if c.Refresh.VaultInterval == 0 {
		c.Refresh.VaultInterval = 30 * time.Second
	}
	if c.Refresh.RouterInterval == 0 {
		c.Refresh.RouterInterval = 60 * time.Second
	}
	if c.Refresh.MaxRetries == 0 {
		c.Refresh.MaxRetries = 3
	}
	if c.Refresh.MaxWatched == 0 {
		c.Refresh.MaxWatched = 1000
	}
	if c.Refresh.WatchIdle == 0 {
		c.Refresh.WatchIdle = 24 * time.Hour
	}
	if c.Refresh.ReadConcurrency == 0 {
		c.Refresh.ReadConcurrency = 8
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Second
	}
	// 0 bps is a valid fee, so unset is tracked with -1.
	if c.Fees.WithdrawalBps < 0 {
		c.Fees.WithdrawalBps = 10
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks field constraints and that every address parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	addrs := map[string]string{
		"chain.module_address": c.Chain.ModuleAddress,
		"chain.vault_address":  c.Chain.VaultAddress,
		"chain.router_address": c.Chain.RouterAddress,
	}
	if c.Chain.RewardsAddress != "" {
		addrs["chain.rewards_address"] = c.Chain.RewardsAddress
	}
	for field, a := range addrs {
		if _, err := contract.ParseAddress(a); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
		}
	}
	if c.Chain.Timeout <= 0 {
		return fmt.Errorf("%w: chain.timeout must be positive", ErrInvalid)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
