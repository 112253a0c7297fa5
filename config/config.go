package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeledger/staking"
)

// Config carries the service settings for the staking ledger daemon and the
// operator CLI.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	DataDir        string   `toml:"DataDir"`
	DBBackend      string   `toml:"DBBackend"`
	Environment    string   `toml:"Environment"`
	LogFile        string   `toml:"LogFile"`
	StakingToken   string   `toml:"StakingToken"`
	ModuleAddress  string   `toml:"ModuleAddress"`
	AdminAddresses []string `toml:"AdminAddresses"`

	Policy      PolicyConfig     `toml:"Policy"`
	Multipliers MultiplierConfig `toml:"Multipliers"`
}

// PolicyConfig mirrors staking.PolicyParameters with string-encoded amounts so
// wei-scale integers survive TOML round trips.
type PolicyConfig struct {
	RewardRate               string `toml:"RewardRate"`
	MinimumStake             string `toml:"MinimumStake"`
	DefaultLockPeriodSeconds uint64 `toml:"DefaultLockPeriodSeconds"`
	EmergencyFeeRate         string `toml:"EmergencyFeeRate"`
}

// MultiplierConfig mirrors staking.MultiplierTable.
type MultiplierConfig struct {
	Basic  string `toml:"Basic"`
	Silver string `toml:"Silver"`
	Gold   string `toml:"Gold"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the baseline configuration.
func Default() *Config {
	policy := staking.DefaultPolicyParameters()
	table := staking.DefaultMultiplierTable()
	return &Config{
		ListenAddress: ":8645",
		DataDir:       "./data",
		DBBackend:     "leveldb",
		StakingToken:  "STK",
		ModuleAddress: "0x" + strings.Repeat("0", 38) + "fe",
		Policy: PolicyConfig{
			RewardRate:               policy.RewardRate.String(),
			MinimumStake:             policy.MinimumStake.String(),
			DefaultLockPeriodSeconds: policy.DefaultLockPeriod,
			EmergencyFeeRate:         policy.EmergencyFeeRate.String(),
		},
		Multipliers: MultiplierConfig{
			Basic:  table.Basic.String(),
			Silver: table.Silver.String(),
			Gold:   table.Gold.String(),
		},
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems before the
// service starts.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.DBBackend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown DBBackend %q (want leveldb, bolt or memory)", c.DBBackend)
	}
	if strings.TrimSpace(c.StakingToken) == "" {
		return fmt.Errorf("config: StakingToken must not be empty")
	}
	if _, err := ParseAddress(c.ModuleAddress); err != nil {
		return fmt.Errorf("config: ModuleAddress: %w", err)
	}
	for _, admin := range c.AdminAddresses {
		if _, err := ParseAddress(admin); err != nil {
			return fmt.Errorf("config: AdminAddresses: %w", err)
		}
	}
	if _, err := c.PolicyParameters(); err != nil {
		return err
	}
	if _, err := c.MultiplierTable(); err != nil {
		return err
	}
	return nil
}

// PolicyParameters converts the string-encoded policy into engine parameters.
func (c *Config) PolicyParameters() (staking.PolicyParameters, error) {
	var params staking.PolicyParameters
	var err error
	if params.RewardRate, err = parseAmount("Policy.RewardRate", c.Policy.RewardRate); err != nil {
		return params, err
	}
	if params.MinimumStake, err = parseAmount("Policy.MinimumStake", c.Policy.MinimumStake); err != nil {
		return params, err
	}
	if params.EmergencyFeeRate, err = parseAmount("Policy.EmergencyFeeRate", c.Policy.EmergencyFeeRate); err != nil {
		return params, err
	}
	params.DefaultLockPeriod = c.Policy.DefaultLockPeriodSeconds
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// MultiplierTable converts the string-encoded multipliers into the engine
// table.
func (c *Config) MultiplierTable() (staking.MultiplierTable, error) {
	var table staking.MultiplierTable
	var err error
	if table.Basic, err = parseAmount("Multipliers.Basic", c.Multipliers.Basic); err != nil {
		return table, err
	}
	if table.Silver, err = parseAmount("Multipliers.Silver", c.Multipliers.Silver); err != nil {
		return table, err
	}
	if table.Gold, err = parseAmount("Multipliers.Gold", c.Multipliers.Gold); err != nil {
		return table, err
	}
	return table, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("config: %s must not be empty", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: %s is not a non-negative integer: %q", field, value)
	}
	return amount, nil
}

// ParseAddress decodes a 0x-prefixed or bare 40-hex-char address.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("address must be 20 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}
