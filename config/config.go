package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pursechain/crypto"

	"github.com/BurntSushi/toml"
)

// Environment is one named deployment target: a chain identifier, the ledger
// vault address every voucher digest binds to, and the local serving
// surfaces.
type Environment struct {
	ChainID        uint64 `toml:"ChainID"`
	LedgerAddress  string `toml:"LedgerAddress"`
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	KeystorePath   string `toml:"KeystorePath"`
	RPCAuthToken   string `toml:"RPCAuthToken"`
	RPCRateLimit   int    `toml:"RPCRateLimit"`
}

// Config selects one of several named environments.
type Config struct {
	Environment  string                  `toml:"Environment"`
	Environments map[string]*Environment `toml:"environments"`
}

// Load reads the configuration from path, creating a default file with a
// fresh keystore when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	env, ok := cfg.Environments[cfg.Environment]
	if !ok || env == nil {
		return nil, fmt.Errorf("config: environment %q not defined in %s", cfg.Environment, path)
	}
	applyDefaults(env)
	if err := ensureKeystore(path, cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Active returns the selected environment.
func (c *Config) Active() (*Environment, error) {
	if c == nil {
		return nil, fmt.Errorf("config: nil config")
	}
	env, ok := c.Environments[c.Environment]
	if !ok || env == nil {
		return nil, fmt.Errorf("config: environment %q not defined", c.Environment)
	}
	return env, nil
}

// LedgerAddressBytes decodes the bech32 ledger address into its 20-byte form.
func (e *Environment) LedgerAddressBytes() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(e.LedgerAddress))
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: ledger address: %w", err)
	}
	return addr.Array(), nil
}

func applyDefaults(env *Environment) {
	if strings.TrimSpace(env.RPCAddress) == "" {
		env.RPCAddress = ":8545"
	}
	if strings.TrimSpace(env.MetricsAddress) == "" {
		env.MetricsAddress = ":9091"
	}
	if strings.TrimSpace(env.DataDir) == "" {
		env.DataDir = "./purse-data"
	}
	if env.RPCRateLimit <= 0 {
		env.RPCRateLimit = 50
	}
	if env.ChainID == 0 {
		env.ChainID = 7001
	}
}

func ensureKeystore(configPath string, cfg *Config, env *Environment) error {
	keystorePath := env.KeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
		if strings.TrimSpace(env.LedgerAddress) == "" {
			env.LedgerAddress = key.PubKey().Address().String()
		}
	} else if err != nil {
		return err
	}

	if env.KeystorePath != keystorePath {
		env.KeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault writes a single-environment configuration alongside a fresh
// keystore whose address doubles as the ledger vault.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	env := &Environment{
		ChainID:       7001,
		LedgerAddress: key.PubKey().Address().String(),
		KeystorePath:  keystorePath,
	}
	applyDefaults(env)
	cfg := &Config{
		Environment:  "local",
		Environments: map[string]*Environment{"local": env},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "ledger.keystore")
}
