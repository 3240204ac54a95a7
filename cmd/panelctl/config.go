package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is what panelctl remembers between runs.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Session   string `yaml:"session,omitempty"`
	TLSCACert string `yaml:"tls_ca_cert,omitempty"`
}

const defaultAddress = "http://127.0.0.1:8080"

var cfg CLIConfig

func configPath() string {
	if v := os.Getenv("PANELCTL_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sitepanel", "config.yaml")
}

// loadConfig reads the stored config. A missing file leaves the defaults; an
// unreadable one is reported and ignored.
func loadConfig() {
	cfg = CLIConfig{Address: defaultAddress}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		printError(fmt.Sprintf("ignoring %s: %v", configPath(), err))
		cfg = CLIConfig{Address: defaultAddress}
	}
}

// resolved returns cfg with SITEPANEL_* environment overrides applied. The
// overrides are never written back.
func resolved() CLIConfig {
	c := cfg
	if v := os.Getenv("SITEPANEL_ADDR"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("SITEPANEL_SESSION"); v != "" {
		c.Session = v
	}
	if v := os.Getenv("SITEPANEL_CACERT"); v != "" {
		c.TLSCACert = v
	}
	return c
}

// saveConfig writes cfg with owner-only permissions since it holds a live
// session token.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
