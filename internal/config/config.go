package config

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CK6170/Rotorbalance-go/balance"
)

// EnvPrefix is prepended to every environment override, e.g.
// ROTORBALANCE_SWEEP_ANGLE_STEP_DEG.
const EnvPrefix = "ROTORBALANCE"

// MQTTConfig enables publishing of computed reports when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Config is the resolved application configuration.
type Config struct {
	Addr  string              `yaml:"addr"`
	Web   string              `yaml:"web"`
	Debug bool                `yaml:"debug"`
	Sweep balance.SweepConfig `yaml:"sweep"`
	MQTT  MQTTConfig          `yaml:"mqtt"`
}

// flagBindings maps viper keys to pflag names.
var flagBindings = map[string]string{
	"addr":                  "addr",
	"web":                   "web",
	"debug":                 "debug",
	"sweep.radius_min_mm":   "radius-min-mm",
	"sweep.radius_max_mm":   "radius-max-mm",
	"sweep.radius_points":   "radius-points",
	"sweep.angle_start_deg": "angle-start",
	"sweep.angle_stop_deg":  "angle-stop",
	"sweep.angle_step_deg":  "angle-step",
	"sweep.fixed_radius_m":  "fixed-radius",
	"mqtt.broker":           "mqtt-broker",
	"mqtt.topic":            "mqtt-topic",
	"mqtt.client_id":        "mqtt-client-id",
}

func setDefaults(v *viper.Viper) {
	s := balance.DefaultSweep()
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("web", "")
	v.SetDefault("debug", false)
	v.SetDefault("sweep.radius_min_mm", s.RadiusMinMM)
	v.SetDefault("sweep.radius_max_mm", s.RadiusMaxMM)
	v.SetDefault("sweep.radius_points", s.RadiusPoints)
	v.SetDefault("sweep.angle_start_deg", s.AngleStartDeg)
	v.SetDefault("sweep.angle_stop_deg", s.AngleStopDeg)
	v.SetDefault("sweep.angle_step_deg", s.AngleStepDeg)
	v.SetDefault("sweep.fixed_radius_m", s.FixedRadiusM)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "rotorbalance/reports")
	v.SetDefault("mqtt.client_id", "rotorbalance")
}

// RegisterFlags adds every configurable key to fs, plus --config.
func RegisterFlags(fs *flag.FlagSet) {
	s := balance.DefaultSweep()
	fs.String("config", "", "optional YAML config file")
	fs.String("addr", "127.0.0.1:8080", "listen address")
	fs.String("web", "", "optional static web dir to serve (e.g. web/dist)")
	fs.Bool("debug", false, "development logging")
	fs.Float64("radius-min-mm", s.RadiusMinMM, "smallest candidate radius (mm)")
	fs.Float64("radius-max-mm", s.RadiusMaxMM, "largest candidate radius (mm)")
	fs.Int("radius-points", s.RadiusPoints, "number of candidate radii")
	fs.Float64("angle-start", s.AngleStartDeg, "first candidate angle (deg)")
	fs.Float64("angle-stop", s.AngleStopDeg, "angle sweep end, exclusive (deg)")
	fs.Float64("angle-step", s.AngleStepDeg, "angle sweep step (deg)")
	fs.Float64("fixed-radius", s.FixedRadiusM, "radius of the angle sweeps (m)")
	fs.String("mqtt-broker", "", "publish reports to this MQTT broker (tcp://host:1883)")
	fs.String("mqtt-topic", "rotorbalance/reports", "MQTT topic for reports")
	fs.String("mqtt-client-id", "rotorbalance", "MQTT client id")
}

// Load resolves the configuration and validates it (fail-fast).
// Precedence: flags > env > YAML file > defaults. flagSet may be nil; the
// file path comes from --config when path is empty.
func Load(flagSet *flag.FlagSet, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" && flagSet != nil {
		if f := flagSet.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := mergeYAML(v, path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flagSet != nil {
		for key, name := range flagBindings {
			if f := flagSet.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	cfg := &Config{
		Addr:  v.GetString("addr"),
		Web:   v.GetString("web"),
		Debug: v.GetBool("debug"),
		Sweep: balance.SweepConfig{
			RadiusMinMM:   v.GetFloat64("sweep.radius_min_mm"),
			RadiusMaxMM:   v.GetFloat64("sweep.radius_max_mm"),
			RadiusPoints:  v.GetInt("sweep.radius_points"),
			AngleStartDeg: v.GetFloat64("sweep.angle_start_deg"),
			AngleStopDeg:  v.GetFloat64("sweep.angle_stop_deg"),
			AngleStepDeg:  v.GetFloat64("sweep.angle_step_deg"),
			FixedRadiusM:  v.GetFloat64("sweep.fixed_radius_m"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			Topic:    v.GetString("mqtt.topic"),
			ClientID: v.GetString("mqtt.client_id"),
		},
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func mergeYAML(v *viper.Viper, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return v.MergeConfigMap(m)
}

func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if err := cfg.Sweep.Validate(); err != nil {
		return err
	}
	if cfg.MQTT.Broker != "" && strings.TrimSpace(cfg.MQTT.Topic) == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
	}
	return nil
}
