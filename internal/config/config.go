package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pool.schema.json
var schemaJSON string

// Config is the complete pool configuration.
type Config struct {
	Capacity               int    `yaml:"capacity" toml:"capacity" json:"capacity"`
	SpawnMinDelayMs        int    `yaml:"spawnMinDelayMs" toml:"spawnMinDelayMs" json:"spawnMinDelayMs"`
	SpawnRangeMs           int    `yaml:"spawnRangeMs" toml:"spawnRangeMs" json:"spawnRangeMs"`
	SpawnPerAgentSpacingMs int    `yaml:"spawnPerAgentSpacingMs" toml:"spawnPerAgentSpacingMs" json:"spawnPerAgentSpacingMs"`
	ServerHost             string `yaml:"serverHost" toml:"serverHost" json:"serverHost"`
	ServerPort             int    `yaml:"serverPort" toml:"serverPort" json:"serverPort"`
	ServerPath             string `yaml:"serverPath" toml:"serverPath" json:"serverPath"`
	NameServiceHost        string `yaml:"nameServiceHost,omitempty" toml:"nameServiceHost,omitempty" json:"nameServiceHost,omitempty"`
	NameServicePort        int    `yaml:"nameServicePort,omitempty" toml:"nameServicePort,omitempty" json:"nameServicePort,omitempty"`
	NameServiceTimeoutMs   int    `yaml:"nameServiceTimeoutMs" toml:"nameServiceTimeoutMs" json:"nameServiceTimeoutMs"`
	StatusIntervalMs       int    `yaml:"statusIntervalMs" toml:"statusIntervalMs" json:"statusIntervalMs"`
	Catalog                string `yaml:"catalog,omitempty" toml:"catalog,omitempty" json:"catalog,omitempty"`

	Logging    LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
	Journal    JournalConfig    `yaml:"journal" toml:"journal" json:"journal"`
	Agent      AgentConfig      `yaml:"agent" toml:"agent" json:"agent"`
	Supervisor SupervisorConfig `yaml:"supervisor" toml:"supervisor" json:"supervisor"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// JournalConfig selects where lifecycle events are appended. An empty Dir
// disables the journal.
type JournalConfig struct {
	Dir     string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
	IndexDB string `yaml:"indexDb,omitempty" toml:"indexDb,omitempty" json:"indexDb,omitempty"`
}

// AgentConfig tunes the per-agent decision loop.
type AgentConfig struct {
	TickIntervalMs      int     `yaml:"tickIntervalMs" toml:"tickIntervalMs" json:"tickIntervalMs"`
	SettleMs            int     `yaml:"settleMs" toml:"settleMs" json:"settleMs"`
	MeleeRange          float64 `yaml:"meleeRange" toml:"meleeRange" json:"meleeRange"`
	DetectionRadius     float64 `yaml:"detectionRadius" toml:"detectionRadius" json:"detectionRadius"`
	TargetTimeoutMs     int     `yaml:"targetTimeoutMs" toml:"targetTimeoutMs" json:"targetTimeoutMs"`
	HungerThreshold     int     `yaml:"hungerThreshold" toml:"hungerThreshold" json:"hungerThreshold"`
	ToolCheckCooldownMs int     `yaml:"toolCheckCooldownMs" toml:"toolCheckCooldownMs" json:"toolCheckCooldownMs"`
	GatherCooldownMs    int     `yaml:"gatherCooldownMs" toml:"gatherCooldownMs" json:"gatherCooldownMs"`
	BuildCooldownMs     int     `yaml:"buildCooldownMs" toml:"buildCooldownMs" json:"buildCooldownMs"`
	GatherRadius        float64 `yaml:"gatherRadius" toml:"gatherRadius" json:"gatherRadius"`
	WanderChance        float64 `yaml:"wanderChance" toml:"wanderChance" json:"wanderChance"`
}

// SupervisorConfig tunes reconnect backoff and connection health checks.
type SupervisorConfig struct {
	MaxAttempts            int     `yaml:"maxAttempts" toml:"maxAttempts" json:"maxAttempts"`
	BackoffBaseMs          int     `yaml:"backoffBaseMs" toml:"backoffBaseMs" json:"backoffBaseMs"`
	BackoffGrowth          float64 `yaml:"backoffGrowth" toml:"backoffGrowth" json:"backoffGrowth"`
	BackoffJitterMs        int     `yaml:"backoffJitterMs" toml:"backoffJitterMs" json:"backoffJitterMs"`
	HeartbeatCheckMs       int     `yaml:"heartbeatCheckMs" toml:"heartbeatCheckMs" json:"heartbeatCheckMs"`
	HeartbeatSlowMs        int     `yaml:"heartbeatSlowMs" toml:"heartbeatSlowMs" json:"heartbeatSlowMs"`
	HeartbeatTimeoutMs     int     `yaml:"heartbeatTimeoutMs" toml:"heartbeatTimeoutMs" json:"heartbeatTimeoutMs"`
	ProtocolErrorThreshold int     `yaml:"protocolErrorThreshold" toml:"protocolErrorThreshold" json:"protocolErrorThreshold"`
	ProtocolErrorDecay     int     `yaml:"protocolErrorDecay" toml:"protocolErrorDecay" json:"protocolErrorDecay"`
	ProtocolErrorLogEvery  int     `yaml:"protocolErrorLogEvery" toml:"protocolErrorLogEvery" json:"protocolErrorLogEvery"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Capacity:               3,
		SpawnMinDelayMs:        20000,
		SpawnRangeMs:           40000,
		SpawnPerAgentSpacingMs: 3000,
		ServerHost:             "localhost",
		ServerPort:             8080,
		ServerPath:             "/v1/ws",
		NameServiceTimeoutMs:   2000,
		StatusIntervalMs:       15000,
		Logging:                LoggingConfig{Level: "info", Format: "text"},
		Agent: AgentConfig{
			TickIntervalMs:      800,
			SettleMs:            1200,
			MeleeRange:          3.5,
			DetectionRadius:     25,
			TargetTimeoutMs:     15000,
			HungerThreshold:     16,
			ToolCheckCooldownMs: 60000,
			GatherCooldownMs:    45000,
			BuildCooldownMs:     120000,
			GatherRadius:        16,
			WanderChance:        0.1,
		},
		Supervisor: SupervisorConfig{
			MaxAttempts:            5,
			BackoffBaseMs:          15000,
			BackoffGrowth:          1.5,
			BackoffJitterMs:        10000,
			HeartbeatCheckMs:       5000,
			HeartbeatSlowMs:        50000,
			HeartbeatTimeoutMs:     60000,
			ProtocolErrorThreshold: 50,
			ProtocolErrorDecay:     5,
			ProtocolErrorLogEvery:  100,
		},
	}
}

// Load reads the configuration at path. It always returns a usable Config;
// the returned errors describe anything that was ignored or replaced.
func Load(path string) (Config, []error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Defaults(), nil
		}
		return Defaults(), []error{fmt.Errorf("reading config file: %w", err)}
	}
	cfg, err := Parse(filepath.Ext(path), raw)
	if err != nil {
		return Defaults(), []error{fmt.Errorf("%s: %w", path, err)}
	}
	problems := cfg.normalize()
	return cfg, problems
}

// Parse decodes raw according to ext on top of the defaults and validates it
// against the schema. Range problems are left for normalize.
func Parse(ext string, raw []byte) (Config, error) {
	expanded := []byte(expandEnvVars(string(raw)))

	var doc any
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(expanded, &doc)
	case ".toml":
		var m map[string]any
		_, err = toml.Decode(string(expanded), &m)
		doc = m
	case ".json":
		err = json.Unmarshal(expanded, &doc)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	if doc == nil {
		return Defaults(), nil
	}
	if err := validateDoc(doc); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	// The schema forbids unknown keys, so a JSON round trip of the generic
	// document decodes cleanly into the typed struct regardless of source format.
	b, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("re-encoding config: %w", err)
	}
	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func validateDoc(doc any) error {
	// Normalize YAML/TOML scalar types to their JSON equivalents first.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	s, err := jsonschema.CompileString("pool.schema.json", schemaJSON)
	if err != nil {
		return err
	}
	return s.Validate(generic)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// normalize replaces out-of-range values with defaults and reports each one.
func (c *Config) normalize() []error {
	d := Defaults()
	var problems []error
	fixInt := func(name string, v *int, def int, ok bool) {
		if !ok {
			problems = append(problems, fmt.Errorf("%s=%d out of range, using %d", name, *v, def))
			*v = def
		}
	}
	fixFloat := func(name string, v *float64, def float64, ok bool) {
		if !ok {
			problems = append(problems, fmt.Errorf("%s=%g out of range, using %g", name, *v, def))
			*v = def
		}
	}

	fixInt("capacity", &c.Capacity, d.Capacity, c.Capacity > 0)
	fixInt("spawnMinDelayMs", &c.SpawnMinDelayMs, d.SpawnMinDelayMs, c.SpawnMinDelayMs > 0)
	fixInt("spawnRangeMs", &c.SpawnRangeMs, d.SpawnRangeMs, c.SpawnRangeMs >= 0)
	fixInt("spawnPerAgentSpacingMs", &c.SpawnPerAgentSpacingMs, d.SpawnPerAgentSpacingMs, c.SpawnPerAgentSpacingMs >= 0)
	fixInt("serverPort", &c.ServerPort, d.ServerPort, c.ServerPort > 0 && c.ServerPort < 65536)
	fixInt("nameServiceTimeoutMs", &c.NameServiceTimeoutMs, d.NameServiceTimeoutMs, c.NameServiceTimeoutMs > 0)
	fixInt("statusIntervalMs", &c.StatusIntervalMs, d.StatusIntervalMs, c.StatusIntervalMs > 0)
	if strings.TrimSpace(c.ServerHost) == "" {
		problems = append(problems, fmt.Errorf("serverHost empty, using %s", d.ServerHost))
		c.ServerHost = d.ServerHost
	}
	if c.ServerPath == "" || !strings.HasPrefix(c.ServerPath, "/") {
		c.ServerPath = "/" + strings.TrimPrefix(c.ServerPath, "/")
	}

	a, da := &c.Agent, d.Agent
	fixInt("agent.tickIntervalMs", &a.TickIntervalMs, da.TickIntervalMs, a.TickIntervalMs > 0)
	fixInt("agent.settleMs", &a.SettleMs, da.SettleMs, a.SettleMs >= 0)
	fixFloat("agent.meleeRange", &a.MeleeRange, da.MeleeRange, a.MeleeRange > 0)
	fixFloat("agent.detectionRadius", &a.DetectionRadius, da.DetectionRadius, a.DetectionRadius > 0)
	fixInt("agent.targetTimeoutMs", &a.TargetTimeoutMs, da.TargetTimeoutMs, a.TargetTimeoutMs > 0)
	fixInt("agent.toolCheckCooldownMs", &a.ToolCheckCooldownMs, da.ToolCheckCooldownMs, a.ToolCheckCooldownMs >= 0)
	fixInt("agent.gatherCooldownMs", &a.GatherCooldownMs, da.GatherCooldownMs, a.GatherCooldownMs >= 0)
	fixInt("agent.buildCooldownMs", &a.BuildCooldownMs, da.BuildCooldownMs, a.BuildCooldownMs >= 0)
	fixFloat("agent.gatherRadius", &a.GatherRadius, da.GatherRadius, a.GatherRadius > 0)
	fixFloat("agent.wanderChance", &a.WanderChance, da.WanderChance, a.WanderChance >= 0 && a.WanderChance <= 1)

	s, ds := &c.Supervisor, d.Supervisor
	fixInt("supervisor.maxAttempts", &s.MaxAttempts, ds.MaxAttempts, s.MaxAttempts > 0)
	fixInt("supervisor.backoffBaseMs", &s.BackoffBaseMs, ds.BackoffBaseMs, s.BackoffBaseMs > 0)
	fixFloat("supervisor.backoffGrowth", &s.BackoffGrowth, ds.BackoffGrowth, s.BackoffGrowth >= 1)
	fixInt("supervisor.backoffJitterMs", &s.BackoffJitterMs, ds.BackoffJitterMs, s.BackoffJitterMs >= 0)
	fixInt("supervisor.heartbeatCheckMs", &s.HeartbeatCheckMs, ds.HeartbeatCheckMs, s.HeartbeatCheckMs > 0)
	fixInt("supervisor.heartbeatTimeoutMs", &s.HeartbeatTimeoutMs, ds.HeartbeatTimeoutMs, s.HeartbeatTimeoutMs > 0)
	fixInt("supervisor.heartbeatSlowMs", &s.HeartbeatSlowMs, ds.HeartbeatSlowMs,
		s.HeartbeatSlowMs > 0 && s.HeartbeatSlowMs <= s.HeartbeatTimeoutMs)
	if s.HeartbeatSlowMs > s.HeartbeatTimeoutMs {
		s.HeartbeatSlowMs = s.HeartbeatTimeoutMs
	}
	fixInt("supervisor.protocolErrorThreshold", &s.ProtocolErrorThreshold, ds.ProtocolErrorThreshold, s.ProtocolErrorThreshold > 0)
	fixInt("supervisor.protocolErrorDecay", &s.ProtocolErrorDecay, ds.ProtocolErrorDecay, s.ProtocolErrorDecay >= 0)
	fixInt("supervisor.protocolErrorLogEvery", &s.ProtocolErrorLogEvery, ds.ProtocolErrorLogEvery, s.ProtocolErrorLogEvery > 0)

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Errorf("logging.level %q unknown, using %s", c.Logging.Level, d.Logging.Level))
		c.Logging.Level = d.Logging.Level
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Errorf("logging.format %q unknown, using %s", c.Logging.Format, d.Logging.Format))
		c.Logging.Format = d.Logging.Format
	}
	return problems
}

// ServerURL is the websocket endpoint of the game server.
func (c Config) ServerURL() string {
	return fmt.Sprintf("ws://%s:%d%s", c.ServerHost, c.ServerPort, c.ServerPath)
}

// NameServiceURL is the base URL of the name service, or "" when none is configured.
func (c Config) NameServiceURL() string {
	if strings.TrimSpace(c.NameServiceHost) == "" || c.NameServicePort <= 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.NameServiceHost, c.NameServicePort)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c Config) SpawnMinDelay() time.Duration        { return ms(c.SpawnMinDelayMs) }
func (c Config) SpawnRange() time.Duration           { return ms(c.SpawnRangeMs) }
func (c Config) SpawnPerAgentSpacing() time.Duration { return ms(c.SpawnPerAgentSpacingMs) }
func (c Config) NameServiceTimeout() time.Duration   { return ms(c.NameServiceTimeoutMs) }
func (c Config) StatusInterval() time.Duration       { return ms(c.StatusIntervalMs) }

func (a AgentConfig) TickInterval() time.Duration      { return ms(a.TickIntervalMs) }
func (a AgentConfig) Settle() time.Duration            { return ms(a.SettleMs) }
func (a AgentConfig) TargetTimeout() time.Duration     { return ms(a.TargetTimeoutMs) }
func (a AgentConfig) ToolCheckCooldown() time.Duration { return ms(a.ToolCheckCooldownMs) }
func (a AgentConfig) GatherCooldown() time.Duration    { return ms(a.GatherCooldownMs) }
func (a AgentConfig) BuildCooldown() time.Duration     { return ms(a.BuildCooldownMs) }

func (s SupervisorConfig) BackoffBase() time.Duration      { return ms(s.BackoffBaseMs) }
func (s SupervisorConfig) BackoffJitter() time.Duration    { return ms(s.BackoffJitterMs) }
func (s SupervisorConfig) HeartbeatCheck() time.Duration   { return ms(s.HeartbeatCheckMs) }
func (s SupervisorConfig) HeartbeatSlow() time.Duration    { return ms(s.HeartbeatSlowMs) }
func (s SupervisorConfig) HeartbeatTimeout() time.Duration { return ms(s.HeartbeatTimeoutMs) }
