// Package config loads simulator settings from a YAML or JSON file with
// SIM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/federation-sim/core"
	"github.com/signalsfoundry/federation-sim/internal/observability"
	"github.com/signalsfoundry/federation-sim/model"
)

// DefaultEntityType is used for entities whose type has no entry in
// EntityTypes.
const DefaultEntityType = "default"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full simulator configuration.
type Config struct {
	LogLevel  string `mapstructure:"logLevel"`
	LogFormat string `mapstructure:"logFormat"`

	Tick     time.Duration `mapstructure:"tick"`
	Duration time.Duration `mapstructure:"duration"` // zero runs until interrupted
	Mode     string        `mapstructure:"mode"`     // realtime | accelerated
	Seed     uint64        `mapstructure:"seed"`     // zero seeds from the clock

	MetricsAddr string                      `mapstructure:"metricsAddr"`
	Tracing     observability.TracingConfig `mapstructure:"tracing"`

	Federation FederationConfig `mapstructure:"federation"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`

	DamageLevels   model.DamageProbability     `mapstructure:"damageLevels"`
	EntityTypes    map[string]EntityTypeConfig `mapstructure:"entityTypes"`
	Munitions      []MunitionConfig            `mapstructure:"munitions"`
	MunitionDamage []model.MunitionDamage      `mapstructure:"munitionDamage"`
	Entities       []EntitySpec                `mapstructure:"entities"`
}

// FederationConfig describes how updates leave and enter this simulator.
type FederationConfig struct {
	ListenAddr string   `mapstructure:"listenAddr"`
	Peers      []string `mapstructure:"peers"`
	// StreamPath, when set, receives every outbound update as msgpack.
	StreamPath string `mapstructure:"streamPath"`
	// MirrorType is the entity type given to entities first seen in a
	// peer's update.
	MirrorType string `mapstructure:"mirrorType"`
}

// RecorderConfig controls the after-action database.
type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty keeps the database in memory
}

// EntityTypeConfig holds dead reckoning, publish and damage settings shared
// by every entity of one type.
type EntityTypeConfig struct {
	Algorithm               string        `mapstructure:"algorithm"`
	DRMode                  string        `mapstructure:"drMode"`
	MaxTranslationSmoothing time.Duration `mapstructure:"maxTranslationSmoothing"`
	MaxRotationSmoothing    time.Duration `mapstructure:"maxRotationSmoothing"`
	FixedSmoothing          bool          `mapstructure:"fixedSmoothing"`
	CubicSpline             bool          `mapstructure:"cubicSpline"`

	MaxUpdateSendRate    float64       `mapstructure:"maxUpdateSendRate"`
	TranslationThreshold float64       `mapstructure:"translationThreshold"`
	RotationThreshold    float64       `mapstructure:"rotationThreshold"` // degrees
	Heartbeat            time.Duration `mapstructure:"heartbeat"`
	ProjectLastPublished bool          `mapstructure:"projectLastPublished"`

	MaxDamageAmount float64 `mapstructure:"maxDamageAmount"`
	// Vulnerability defaults to 1 when omitted; zero makes the type immune.
	Vulnerability  *float64   `mapstructure:"vulnerability"`
	SupportsFlames bool       `mapstructure:"supportsFlames"`
	Dimensions     [3]float64 `mapstructure:"dimensions"`
}

// MunitionConfig names a munition and the damage table entry it uses.
type MunitionConfig struct {
	Name       string `mapstructure:"name"`
	DamageType string `mapstructure:"damageType"`
	Family     string `mapstructure:"family"`
}

// EntitySpec is an entity spawned at start-up.
type EntitySpec struct {
	ID        string     `mapstructure:"id"`
	Name      string     `mapstructure:"name"`
	Type      string     `mapstructure:"type"`
	Ownership string     `mapstructure:"ownership"` // local | remote
	Position  [3]float64 `mapstructure:"position"`
	Velocity  [3]float64 `mapstructure:"velocity"`
	Heading   float64    `mapstructure:"heading"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "text")
	v.SetDefault("tick", "100ms")
	v.SetDefault("duration", "0s")
	v.SetDefault("mode", "realtime")
	v.SetDefault("seed", 0)
	v.SetDefault("metricsAddr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "federation-sim")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sampleRatio", 1.0)

	v.SetDefault("federation.listenAddr", ":50051")
	v.SetDefault("federation.peers", []string{})
	v.SetDefault("federation.streamPath", "")
	v.SetDefault("federation.mirrorType", DefaultEntityType)

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.path", "")

	v.SetDefault("damageLevels.none", model.DefaultDamageLevels.None)
	v.SetDefault("damageLevels.mobility", model.DefaultDamageLevels.Mobility)
	v.SetDefault("damageLevels.firepower", model.DefaultDamageLevels.Firepower)
	v.SetDefault("damageLevels.mobilityFirepower", model.DefaultDamageLevels.MobilityFirepower)
	v.SetDefault("damageLevels.kill", model.DefaultDamageLevels.Kill)
}

// envBindings maps keys whose env name does not follow the SIM_<KEY> rule.
var envBindings = map[string]string{
	"logLevel":              "SIM_LOG_LEVEL",
	"logFormat":             "SIM_LOG_FORMAT",
	"metricsAddr":           "SIM_METRICS_ADDR",
	"federation.listenAddr": "SIM_LISTEN_ADDR",
	"federation.streamPath": "SIM_STREAM_PATH",
	"recorder.enabled":      "SIM_RECORDER_ENABLED",
	"recorder.path":         "SIM_RECORDER_PATH",
	"tracing.serviceName":   "SIM_TRACING_SERVICE_NAME",
	"tracing.sampleRatio":   "SIM_TRACING_SAMPLE_RATIO",
	"tracing.endpoint":      "SIM_OTLP_ENDPOINT",
}

// Load reads path (YAML or JSON, chosen by extension) over the defaults and
// applies environment overrides. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the simulator cannot run with.
func (c *Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive, got %s", ErrInvalidConfig, c.Tick)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Mode) {
	case "realtime", "accelerated":
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if err := c.DamageLevels.Validate(0.01); err != nil {
		return fmt.Errorf("%w: damageLevels: %v", ErrInvalidConfig, err)
	}

	damage := make(map[string]bool, len(c.MunitionDamage))
	for _, md := range c.MunitionDamage {
		if md.Name == "" {
			return fmt.Errorf("%w: munition damage entry without a name", ErrInvalidConfig)
		}
		if md.CutoffRange < 0 || md.NewtonForce < 0 {
			return fmt.Errorf("%w: munition damage %q has a negative range or force", ErrInvalidConfig, md.Name)
		}
		damage[md.Name] = true
	}
	for _, m := range c.Munitions {
		if m.Name == "" {
			return fmt.Errorf("%w: munition without a name", ErrInvalidConfig)
		}
		if _, err := model.ParseMunitionFamily(m.Family); err != nil {
			return fmt.Errorf("%w: munition %q: %v", ErrInvalidConfig, m.Name, err)
		}
		if !damage[m.DamageType] {
			return fmt.Errorf("%w: munition %q references unknown damage type %q", ErrInvalidConfig, m.Name, m.DamageType)
		}
	}
	for name, et := range c.EntityTypes {
		if _, err := model.ParseDRAlgorithm(et.Algorithm); err != nil {
			return fmt.Errorf("%w: entity type %q: %v", ErrInvalidConfig, name, err)
		}
		if _, err := model.ParseDRMode(et.DRMode); err != nil {
			return fmt.Errorf("%w: entity type %q: %v", ErrInvalidConfig, name, err)
		}
		if et.Vulnerability != nil && *et.Vulnerability < 0 {
			return fmt.Errorf("%w: entity type %q has negative vulnerability", ErrInvalidConfig, name)
		}
	}

	seen := make(map[string]bool, len(c.Entities))
	for _, e := range c.Entities {
		if e.ID != "" {
			if seen[e.ID] {
				return fmt.Errorf("%w: duplicate entity id %q", ErrInvalidConfig, e.ID)
			}
			seen[e.ID] = true
		}
		if _, err := parseOwnership(e.Ownership); err != nil {
			return fmt.Errorf("%w: entity %q: %v", ErrInvalidConfig, e.Name, err)
		}
	}
	return nil
}

// MunitionTable builds the munition type lookup.
func (c *Config) MunitionTable() (*core.MunitionTypeTable, error) {
	munitions := make([]model.Munition, 0, len(c.Munitions))
	for _, m := range c.Munitions {
		family, err := model.ParseMunitionFamily(m.Family)
		if err != nil {
			return nil, fmt.Errorf("%w: munition %q: %v", ErrInvalidConfig, m.Name, err)
		}
		munitions = append(munitions, model.Munition{Name: m.Name, DamageType: m.DamageType, Family: family})
	}
	return core.NewMunitionTypeTable(munitions...), nil
}

// DamageTable builds the munition damage lookup.
func (c *Config) DamageTable() *core.MunitionDamageTable {
	return core.NewMunitionDamageTable(c.MunitionDamage...)
}

// EntityConfig returns the engine settings for entityType. Unknown types
// fall back to the "default" entry and then to built-in defaults.
func (c *Config) EntityConfig(entityType string) (core.EntityConfig, error) {
	cfg := core.DefaultEntityConfig()
	cfg.Damage.DamageLevels = c.DamageLevels

	et, ok := c.lookupType(entityType)
	if !ok {
		return cfg, nil
	}

	algo, err := model.ParseDRAlgorithm(et.Algorithm)
	if err != nil {
		return cfg, fmt.Errorf("%w: entity type %q: %v", ErrInvalidConfig, entityType, err)
	}
	mode, err := model.ParseDRMode(et.DRMode)
	if err != nil {
		return cfg, fmt.Errorf("%w: entity type %q: %v", ErrInvalidConfig, entityType, err)
	}
	if et.Algorithm != "" {
		cfg.Extrapolation.Algorithm = algo
		cfg.Publish.Algorithm = algo
	}
	cfg.Extrapolation.Mode = mode
	if et.MaxTranslationSmoothing > 0 {
		cfg.Extrapolation.MaxTranslationSmoothingTime = et.MaxTranslationSmoothing
	}
	if et.MaxRotationSmoothing > 0 {
		cfg.Extrapolation.MaxRotationSmoothingTime = et.MaxRotationSmoothing
	}
	cfg.Extrapolation.FixedSmoothingTime = et.FixedSmoothing
	cfg.Extrapolation.CubicSpline = et.CubicSpline

	if et.MaxUpdateSendRate > 0 {
		cfg.Publish.MaxUpdateSendRate = et.MaxUpdateSendRate
	}
	if et.TranslationThreshold > 0 {
		cfg.Publish.TranslationThreshold = et.TranslationThreshold
	}
	if et.RotationThreshold > 0 {
		cfg.Publish.RotationThresholdDeg = et.RotationThreshold
	}
	cfg.Publish.HeartbeatInterval = et.Heartbeat
	cfg.Publish.ProjectLastPublished = et.ProjectLastPublished

	if et.MaxDamageAmount > 0 {
		cfg.Damage.MaxDamageAmount = et.MaxDamageAmount
	}
	if et.Vulnerability != nil {
		cfg.Damage.Vulnerability = *et.Vulnerability
	}
	cfg.Damage.SupportsFlames = et.SupportsFlames
	return cfg, nil
}

// Dimensions returns the bounding box configured for entityType.
func (c *Config) Dimensions(entityType string) mgl64.Vec3 {
	et, _ := c.lookupType(entityType)
	return mgl64.Vec3(et.Dimensions)
}

// Definition converts a start-up entity into an engine definition.
func (c *Config) Definition(e EntitySpec) (model.EntityDefinition, error) {
	own, err := parseOwnership(e.Ownership)
	if err != nil {
		return model.EntityDefinition{}, err
	}
	return model.EntityDefinition{
		ID:         e.ID,
		Name:       e.Name,
		Type:       e.Type,
		Ownership:  own,
		Dimensions: c.Dimensions(e.Type),
	}, nil
}

// lookupType is case-insensitive because viper lowercases map keys.
func (c *Config) lookupType(entityType string) (EntityTypeConfig, bool) {
	if et, ok := c.EntityTypes[strings.ToLower(entityType)]; ok {
		return et, true
	}
	et, ok := c.EntityTypes[DefaultEntityType]
	return et, ok
}

func parseOwnership(s string) (model.Ownership, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return model.OwnershipLocal, nil
	case "remote":
		return model.OwnershipRemote, nil
	default:
		return model.OwnershipLocal, fmt.Errorf("unknown ownership %q", s)
	}
}
