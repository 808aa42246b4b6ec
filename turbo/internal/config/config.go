// Package config handles entryturbo configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Page    PageConfig    `yaml:"page"`
	Engine  EngineConfig  `yaml:"engine"`
	Anchor  AnchorConfig  `yaml:"anchor"`
	Control ControlConfig `yaml:"control"`
	Global  GlobalConfig  `yaml:"global"`
	Store   StoreConfig   `yaml:"store"`
	Admin   AdminConfig   `yaml:"admin"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"` // ws:// of an existing Chrome; empty launches one
	Headless         *bool    `yaml:"headless"`
	Stealth          bool     `yaml:"stealth"`
	Bin              string   `yaml:"bin"`
	ResourceBlocking []string `yaml:"resource_blocking"` // image | font | media | stylesheet
}

// PageConfig defines the editor page to open.
type PageConfig struct {
	URL         string        `yaml:"url"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// EngineConfig holds the reconciliation timings.
type EngineConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	Debounce      time.Duration `yaml:"debounce"`
	StateDelay    time.Duration `yaml:"state_delay"`
	ElevatedDepth int           `yaml:"elevated_depth"`
}

// AnchorConfig holds one selector per layout plus the popup marker.
type AnchorConfig struct {
	ProjectSelector   string `yaml:"project_selector"`
	WorkspaceSelector string `yaml:"workspace_selector"`
	ElevatedMarker    string `yaml:"elevated_marker"`
}

// ControlConfig defines the button appearance.
type ControlConfig struct {
	MarkerOn  string `yaml:"marker_on"`
	MarkerOff string `yaml:"marker_off"`
	LabelOn   string `yaml:"label_on"`
	LabelOff  string `yaml:"label_off"`
	ColorOn   string `yaml:"color_on"`
	ColorOff  string `yaml:"color_off"`
}

// GlobalConfig names the page global that mirrors the flag.
type GlobalConfig struct {
	Object string `yaml:"object"`
	Field  string `yaml:"field"`
}

// StoreConfig locates and tunes the preference database.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"` // OFF, NORMAL, FULL or EXTRA
}

// AdminConfig enables the HTTP and MCP surfaces.
type AdminConfig struct {
	Addr string `yaml:"addr"` // empty disables HTTP
	MCP  bool   `yaml:"mcp"`  // serve MCP over stdio
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero value.
func (c *Config) ApplyDefaults() {
	if c.Browser.Headless == nil {
		t := true
		c.Browser.Headless = &t
	}
	if c.Page.URL == "" {
		c.Page.URL = "https://playentry.org/ws/new"
	}
	if c.Page.LoadTimeout <= 0 {
		c.Page.LoadTimeout = 30 * time.Second
	}
	if c.Engine.PollInterval <= 0 {
		c.Engine.PollInterval = 500 * time.Millisecond
	}
	if c.Engine.Debounce <= 0 {
		c.Engine.Debounce = 50 * time.Millisecond
	}
	if c.Engine.StateDelay <= 0 {
		c.Engine.StateDelay = 100 * time.Millisecond
	}
	if c.Engine.ElevatedDepth <= 0 {
		c.Engine.ElevatedDepth = 10
	}
	if c.Anchor.ProjectSelector == "" {
		c.Anchor.ProjectSelector = ".entryEngineButtonMinimize.entryCoordinateButtonMinimize"
	}
	if c.Anchor.WorkspaceSelector == "" {
		c.Anchor.WorkspaceSelector = ".entryEngineButtonWorkspace_w.entryEngineTopWorkspace.entryCoordinateButtonWorkspace_w"
	}
	if c.Anchor.ElevatedMarker == "" {
		c.Anchor.ElevatedMarker = "entryPopup"
	}
	if c.Control.MarkerOn == "" {
		c.Control.MarkerOn = "isTurboButtonON"
	}
	if c.Control.MarkerOff == "" {
		c.Control.MarkerOff = "isTurboButtonOFF"
	}
	if c.Control.LabelOn == "" {
		c.Control.LabelOn = "터보모드 켜짐"
	}
	if c.Control.LabelOff == "" {
		c.Control.LabelOff = "터보모드 꺼짐"
	}
	if c.Control.ColorOn == "" {
		c.Control.ColorOn = "rgb(22, 216, 163)"
	}
	if c.Control.ColorOff == "" {
		c.Control.ColorOff = "rgb(226, 226, 226)"
	}
	if c.Global.Object == "" {
		c.Global.Object = "Entry"
	}
	if c.Global.Field == "" {
		c.Global.Field = "isTurbo"
	}
	if c.Store.Path == "" {
		c.Store.Path = "entryturbo.db"
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 10 * time.Second
	}
	if c.Store.Synchronous == "" {
		c.Store.Synchronous = "NORMAL"
	}
}

// Validate rejects combinations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Control.MarkerOn == c.Control.MarkerOff {
		return fmt.Errorf("config: marker_on and marker_off must differ (%q)", c.Control.MarkerOn)
	}
	if c.Engine.Debounce >= c.Engine.PollInterval {
		return fmt.Errorf("config: debounce %s must be shorter than poll_interval %s", c.Engine.Debounce, c.Engine.PollInterval)
	}
	switch strings.ToUpper(c.Store.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: unknown store synchronous mode %q", c.Store.Synchronous)
	}
	return nil
}
