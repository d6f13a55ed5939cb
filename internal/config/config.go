// Package config loads the JSON runtime configuration. Every field is a
// pointer so that a partial file overrides only what it names; the Get*
// accessors fall back to the shipped defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wayguide/wayguide/internal/guidance"
	"github.com/wayguide/wayguide/internal/obstacle"
	"github.com/wayguide/wayguide/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/wayguide.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Link kinds.
const (
	LinkSerial = "serial"
	LinkTCP    = "tcp"
)

// Config is the root configuration.
type Config struct {
	Locale *string `json:"locale,omitempty"`

	Escalator EscalatorConfig `json:"escalator"`
	Obstacle  ObstacleConfig  `json:"obstacle"`
	Service   ServiceConfig   `json:"service"`
	Camera    CameraConfig    `json:"camera"`
	Link      LinkConfig      `json:"link"`
	Journal   JournalConfig   `json:"journal"`
	Mirror    MirrorConfig    `json:"mirror"`
	Debug     DebugConfig     `json:"debug"`
}

// EscalatorConfig tunes the locate and track phases.
type EscalatorConfig struct {
	Warmup               *string  `json:"warmup,omitempty"`        // duration string like "2s"
	LocateWindow         *string  `json:"locate_window,omitempty"` // duration string like "3s"
	TrackWindow          *string  `json:"track_window,omitempty"`  // duration string like "3s"
	MinStepMovementRatio *float64 `json:"min_step_movement_ratio,omitempty"`
}

// ObstacleConfig tunes the grid classifier and voter. Grid fields left out
// keep their default values.
type ObstacleConfig struct {
	Grid       *obstacle.Grid `json:"grid,omitempty"`
	VoteWindow *string        `json:"vote_window,omitempty"`
	Interval   *string        `json:"interval,omitempty"`
}

type obstacleConfigJSON ObstacleConfig

// UnmarshalJSON seeds a present "grid" object with obstacle.DefaultGrid so
// that a partial grid overrides only the fields it names.
func (o *ObstacleConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Grid json.RawMessage `json:"grid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var aux obstacleConfigJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(raw.Grid) > 0 && string(raw.Grid) != "null" {
		g := obstacle.DefaultGrid()
		if err := json.Unmarshal(raw.Grid, &g); err != nil {
			return err
		}
		aux.Grid = &g
	}
	*o = ObstacleConfig(aux)
	return nil
}

// ServiceConfig tunes the orchestrator.
type ServiceConfig struct {
	ResetDeviceOnSwitch *bool   `json:"reset_device_on_switch,omitempty"`
	JoinTimeout         *string `json:"join_timeout,omitempty"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	// ReplayDir, when set, reads frames from a recorded manifest instead of
	// the attached camera.
	ReplayDir         *string `json:"replay_dir,omitempty"`
	ReadRetries       *int    `json:"read_retries,omitempty"`
	ReadRetryInterval *string `json:"read_retry_interval,omitempty"`
}

// LinkConfig selects and tunes the control link.
type LinkConfig struct {
	Kind          *string               `json:"kind,omitempty"`
	Device        *string               `json:"device,omitempty"`
	Listen        *string               `json:"listen,omitempty"`
	RetryInterval *string               `json:"retry_interval,omitempty"`
	Port          *serialmux.PortOptions `json:"port,omitempty"`
}

// JournalConfig controls the SQLite guidance journal.
type JournalConfig struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Path    *string `json:"path,omitempty"`
}

// MirrorConfig controls the MQTT mirror.
type MirrorConfig struct {
	Enabled        *bool   `json:"enabled,omitempty"`
	Broker         *string `json:"broker,omitempty"`
	ClientID       *string `json:"client_id,omitempty"`
	Username       *string `json:"username,omitempty"`
	Password       *string `json:"password,omitempty"`
	TopicPrefix    *string `json:"topic_prefix,omitempty"`
	PublishTimeout *string `json:"publish_timeout,omitempty"`
}

// DebugConfig controls the debug HTTP listener. An empty listen address
// disables it.
type DebugConfig struct {
	Listen *string `json:"listen,omitempty"`
}

// Empty returns a Config with every field unset, which yields all defaults.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB. Fields omitted from the file keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching up from the
// working directory. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"escalator.warmup", c.Escalator.Warmup},
		{"escalator.locate_window", c.Escalator.LocateWindow},
		{"escalator.track_window", c.Escalator.TrackWindow},
		{"obstacle.vote_window", c.Obstacle.VoteWindow},
		{"obstacle.interval", c.Obstacle.Interval},
		{"service.join_timeout", c.Service.JoinTimeout},
		{"camera.read_retry_interval", c.Camera.ReadRetryInterval},
		{"link.retry_interval", c.Link.RetryInterval},
		{"mirror.publish_timeout", c.Mirror.PublishTimeout},
	}
	for _, d := range durations {
		if err := checkDuration(d.name, d.v); err != nil {
			return err
		}
	}

	if c.Locale != nil {
		if _, err := guidance.NewCatalog(*c.Locale); err != nil {
			return err
		}
	}

	if r := c.Escalator.MinStepMovementRatio; r != nil {
		if *r < 0 || *r > 1 {
			return fmt.Errorf("escalator.min_step_movement_ratio must be between 0 and 1, got %f", *r)
		}
	}

	if c.Obstacle.Grid != nil {
		if err := validateGrid(c.GetGrid()); err != nil {
			return err
		}
	}

	if c.Camera.ReadRetries != nil && *c.Camera.ReadRetries < 1 {
		return fmt.Errorf("camera.read_retries must be at least 1, got %d", *c.Camera.ReadRetries)
	}

	switch k := c.GetLinkKind(); k {
	case LinkSerial, LinkTCP:
	default:
		return fmt.Errorf("link.kind must be %q or %q, got %q", LinkSerial, LinkTCP, k)
	}
	if c.Link.Port != nil {
		if _, err := c.Link.Port.Normalize(); err != nil {
			return fmt.Errorf("link.port: %w", err)
		}
	}

	if c.GetMirrorEnabled() && c.GetMirrorBroker() == "" {
		return fmt.Errorf("mirror.broker is required when the mirror is enabled")
	}
	if c.GetJournalEnabled() && c.GetJournalPath() == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}

func validateGrid(g obstacle.Grid) error {
	if g.CropWidth < obstacle.NumRegions {
		return fmt.Errorf("obstacle.grid.crop_width must be at least %d, got %d", obstacle.NumRegions, g.CropWidth)
	}
	if g.Pitch < 1 {
		return fmt.Errorf("obstacle.grid.pitch must be positive, got %d", g.Pitch)
	}
	if !(g.NearMax <= g.CloseMax && g.CloseMax <= g.CautionMax && g.CautionMax <= g.FarMax) {
		return fmt.Errorf("obstacle.grid band limits must be ascending: near %d, close %d, caution %d, far %d",
			g.NearMax, g.CloseMax, g.CautionMax, g.FarMax)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
