package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/federation-sim/model"
)

const sampleYAML = `
tick: 50ms
mode: accelerated
duration: 30s
federation:
  listenAddr: 127.0.0.1:6000
  peers: ["10.0.0.2:50051"]
damageLevels:
  none: 0.5
  mobility: 0.2
  firepower: 0.2
  mobilityFirepower: 0.05
  kill: 0.05
entityTypes:
  TANK:
    algorithm: velocity_and_acceleration
    drMode: calculate_and_move
    maxTranslationSmoothing: 4s
    cubicSpline: true
    maxUpdateSendRate: 10
    translationThreshold: 0.5
    heartbeat: 5s
    maxDamageAmount: 2
    vulnerability: 0.5
    supportsFlames: true
    dimensions: [7, 3.5, 2.5]
  STEALTH:
    vulnerability: 0
munitions:
  - name: M107
    damageType: HE_155
    family: HIGH_EXPLOSIVE
munitionDamage:
  - name: HE_155
    cutoffRange: 50
    newtonForce: 5000
    directFire: {none: 0.1, mobility: 0.2, firepower: 0.2, mobilityFirepower: 0.2, kill: 0.3}
    indirectFire:
      kill: {forward: 10, deflection: 5}
entities:
  - id: tank-1
    name: Alpha
    type: TANK
    position: [10, 20, 0]
    velocity: [5, 0, 0]
  - id: truck-9
    type: TRUCK
    ownership: remote
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick != 100*time.Millisecond {
		t.Fatalf("Tick = %v, want 100ms", cfg.Tick)
	}
	if cfg.Mode != "realtime" || cfg.LogLevel != "info" {
		t.Fatalf("Mode/LogLevel = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Federation.ListenAddr != ":50051" {
		t.Fatalf("ListenAddr = %q, want :50051", cfg.Federation.ListenAddr)
	}
	if cfg.DamageLevels != model.DefaultDamageLevels {
		t.Fatalf("DamageLevels = %+v, want defaults", cfg.DamageLevels)
	}
	if cfg.Tracing.ServiceName != "federation-sim" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("Tracing = %+v", cfg.Tracing)
	}
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sim.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick != 50*time.Millisecond || cfg.Duration != 30*time.Second {
		t.Fatalf("Tick/Duration = %v/%v", cfg.Tick, cfg.Duration)
	}
	if cfg.Mode != "accelerated" {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if len(cfg.Federation.Peers) != 1 || cfg.Federation.Peers[0] != "10.0.0.2:50051" {
		t.Fatalf("Peers = %v", cfg.Federation.Peers)
	}
	if cfg.DamageLevels.Firepower != 0.2 {
		t.Fatalf("DamageLevels = %+v", cfg.DamageLevels)
	}
	if len(cfg.Entities) != 2 || cfg.Entities[0].Position != [3]float64{10, 20, 0} {
		t.Fatalf("Entities = %+v", cfg.Entities)
	}

	md, ok := cfg.DamageTable().Lookup("HE_155")
	if !ok || md.CutoffRange != 50 || md.IndirectFire.Kill.Forward != 10 || md.DirectFire.Kill != 0.3 {
		t.Fatalf("HE_155 = %+v, %v", md, ok)
	}
	types, err := cfg.MunitionTable()
	if err != nil {
		t.Fatalf("MunitionTable: %v", err)
	}
	m, ok := types.Lookup("M107")
	if !ok || m.Family != model.FamilyHighExplosive {
		t.Fatalf("M107 = %+v, %v", m, ok)
	}
}

func TestLoad_JSON(t *testing.T) {
	body := `{"tick": "200ms", "logFormat": "json", "recorder": {"enabled": true, "path": "aar.db"}}`
	cfg, err := Load(writeConfig(t, "sim.json", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick != 200*time.Millisecond || cfg.LogFormat != "json" {
		t.Fatalf("Tick/LogFormat = %v/%q", cfg.Tick, cfg.LogFormat)
	}
	if !cfg.Recorder.Enabled || cfg.Recorder.Path != "aar.db" {
		t.Fatalf("Recorder = %+v", cfg.Recorder)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SIM_LOG_LEVEL", "debug")
	t.Setenv("SIM_TICK", "20ms")
	t.Setenv("SIM_LISTEN_ADDR", "127.0.0.1:7000")

	cfg, err := Load(writeConfig(t, "sim.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Tick != 20*time.Millisecond {
		t.Fatalf("Tick = %v, want 20ms", cfg.Tick)
	}
	if cfg.Federation.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("ListenAddr = %q", cfg.Federation.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Tick:         time.Second,
			Mode:         "realtime",
			DamageLevels: model.DefaultDamageLevels,
			MunitionDamage: []model.MunitionDamage{
				{Name: "HE"},
			},
			Munitions: []MunitionConfig{{Name: "M1", DamageType: "HE", Family: "GRENADE"}},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("Validate(base) = %v", err)
	}

	cases := map[string]func(c *Config){
		"zero tick":        func(c *Config) { c.Tick = 0 },
		"bad mode":         func(c *Config) { c.Mode = "warp" },
		"levels":           func(c *Config) { c.DamageLevels.Kill = 0.5 },
		"family":           func(c *Config) { c.Munitions[0].Family = "LASER" },
		"dangling damage":  func(c *Config) { c.Munitions[0].DamageType = "AP" },
		"algorithm":        func(c *Config) { c.EntityTypes = map[string]EntityTypeConfig{"x": {Algorithm: "psychic"}} },
		"duplicate entity": func(c *Config) { c.Entities = []EntitySpec{{ID: "a"}, {ID: "a"}} },
		"ownership":        func(c *Config) { c.Entities = []EntitySpec{{ID: "a", Ownership: "shared"}} },
		"negative force": func(c *Config) {
			c.MunitionDamage[0].NewtonForce = -1
		},
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: Validate = %v, want ErrInvalidConfig", name, err)
		}
	}
}

func TestEntityConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sim.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tank, err := cfg.EntityConfig("TANK")
	if err != nil {
		t.Fatalf("EntityConfig(TANK): %v", err)
	}
	if tank.Extrapolation.Algorithm != model.DRVelocityAndAcceleration || tank.Extrapolation.Mode != model.DRCalculateAndMove {
		t.Fatalf("extrapolation = %+v", tank.Extrapolation)
	}
	if tank.Extrapolation.MaxTranslationSmoothingTime != 4*time.Second || !tank.Extrapolation.CubicSpline {
		t.Fatalf("smoothing = %+v", tank.Extrapolation)
	}
	if tank.Publish.MaxUpdateSendRate != 10 || tank.Publish.TranslationThreshold != 0.5 || tank.Publish.HeartbeatInterval != 5*time.Second {
		t.Fatalf("publish = %+v", tank.Publish)
	}
	if tank.Damage.MaxDamageAmount != 2 || tank.Damage.Vulnerability != 0.5 || !tank.Damage.SupportsFlames {
		t.Fatalf("damage = %+v", tank.Damage)
	}
	if tank.Damage.DamageLevels != cfg.DamageLevels {
		t.Fatalf("damage levels not propagated: %+v", tank.Damage.DamageLevels)
	}

	stealth, err := cfg.EntityConfig("stealth")
	if err != nil {
		t.Fatalf("EntityConfig(stealth): %v", err)
	}
	if stealth.Damage.Vulnerability != 0 {
		t.Fatalf("stealth vulnerability = %v, want 0", stealth.Damage.Vulnerability)
	}

	other, err := cfg.EntityConfig("TRUCK")
	if err != nil {
		t.Fatalf("EntityConfig(TRUCK): %v", err)
	}
	if other.Damage.Vulnerability != 1 || other.Extrapolation.Algorithm != model.DRVelocityOnly {
		t.Fatalf("fallback config = %+v", other)
	}
}

func TestDefinition(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sim.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, err := cfg.Definition(cfg.Entities[0])
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	if def.ID != "tank-1" || def.Ownership != model.OwnershipLocal || def.Dimensions[0] != 7 {
		t.Fatalf("definition = %+v", def)
	}
	remote, err := cfg.Definition(cfg.Entities[1])
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	if remote.Ownership != model.OwnershipRemote {
		t.Fatalf("ownership = %v, want remote", remote.Ownership)
	}
}
