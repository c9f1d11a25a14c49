// Package config loads the coordinator's tunables from a YAML file and lets
// CLI flags override individual fields, the same two-layer pattern the
// pack's chaos-utils CLI uses (pkg/config + cmd/.../run.go flag overrides).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Algorithm selects which combination of transmission/security constraints
// the run enforces, per spec.md §6 CLI contract.
type Algorithm string

const (
	AlgoTCUCCentral Algorithm = "tcuc-central"
	AlgoSCUCCentral Algorithm = "scuc-central"
	AlgoTCUCISF     Algorithm = "tcuc-isf"
	AlgoSCUCISF     Algorithm = "scuc-isf"
	AlgoTCUCTheta   Algorithm = "tcuc-theta"
)

// Security reports whether algo enforces N-1 contingencies.
func (a Algorithm) Security() bool {
	return a == AlgoSCUCCentral || a == AlgoSCUCISF
}

// Transmission reports whether algo enforces any transmission limits at all.
func (a Algorithm) Transmission() bool {
	return a != "" // every supported algorithm in this CLI enforces at least pre-contingency limits
}

// Valid reports whether a is one of the five supported algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgoTCUCCentral, AlgoSCUCCentral, AlgoTCUCISF, AlgoSCUCISF, AlgoTCUCTheta:
		return true
	default:
		return false
	}
}

// ADMM carries the sharing-ADMM coordinator's tunables (spec.md §4.5).
type ADMM struct {
	Rho                   float64       `yaml:"rho"`
	RhoMax                float64       `yaml:"rho_max"`
	RhoMultiplier         float64       `yaml:"rho_multiplier"`
	RhoUpdateInterval     int           `yaml:"rho_update_interval"`
	ObjChangeTolerance    float64       `yaml:"obj_change_tolerance"`
	InfeasImprovTolerance float64       `yaml:"infeas_improv_tolerance"`
	MinIterations         int           `yaml:"min_iterations"`
	MinFeasibility        float64       `yaml:"min_feasibility"`
	MaxIterations         int           `yaml:"max_iterations"`
	MaxTime               time.Duration `yaml:"max_time"`
}

// DefaultADMM mirrors the magnitudes implied by spec.md's worked examples
// (10.0 safety-band thresholds, 1e-3 violation threshold) scaled to
// reasonable iteration defaults for a first run.
func DefaultADMM() ADMM {
	return ADMM{
		Rho:                   1.0,
		RhoMax:                1000.0,
		RhoMultiplier:         1.5,
		RhoUpdateInterval:     10,
		ObjChangeTolerance:    1e-4,
		InfeasImprovTolerance: 1e-4,
		MinIterations:         5,
		MinFeasibility:        1e-3,
		MaxIterations:         500,
		MaxTime:               10 * time.Minute,
	}
}

// SolverConfig configures the external MIQP/QP solver collaborator.
type SolverConfig struct {
	Threads int     `yaml:"threads"`
	MIPGap  float64 `yaml:"mip_gap"`
	Seed    int64   `yaml:"seed"`
}

// DefaultSolverConfig matches spec.md §5's "default 8 threads".
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{Threads: 8, MIPGap: 1e-3, Seed: 1}
}

// PartitionConfig configures the C2 zone partitioner.
type PartitionConfig struct {
	Epsilon float64 `yaml:"epsilon"`
	MaxSize int     `yaml:"max_size"`
	MIPGap  float64 `yaml:"mip_gap"`
}

// DefaultPartitionConfig picks a balance tolerance strictly inside (0, 0.5).
func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{Epsilon: 0.1, MaxSize: 200, MIPGap: 1e-3}
}

// Config is the coordinator's fully resolved configuration.
type Config struct {
	InstanceDir  string           `yaml:"instance_dir"`
	CacheDir     string           `yaml:"cache_dir"`
	Algorithm    Algorithm        `yaml:"algorithm"`
	DemandScale  float64          `yaml:"demand_scale"`
	LimitScale   float64          `yaml:"limit_scale"`
	Careful      bool             `yaml:"careful"`
	Horizon      int              `yaml:"horizon"`
	ReserveFrac  float64          `yaml:"reserve_fraction"`
	ADMM         ADMM             `yaml:"admm"`
	Solver       SolverConfig     `yaml:"solver"`
	Partition    PartitionConfig  `yaml:"partition"`
	LogLevel     string           `yaml:"log_level"`
	LogFormat    string           `yaml:"log_format"`
	MetricsAddr  string           `yaml:"metrics_addr"`
	SolutionPath string           `yaml:"solution_path"`
}

// Default returns a Config with every tunable at its documented default;
// InstanceDir/Algorithm/DemandScale/LimitScale/Careful are positional CLI
// arguments and must be filled in by the caller.
func Default() Config {
	return Config{
		CacheDir:     "cache",
		Horizon:      24,
		ReserveFrac:  0.03,
		ADMM:         DefaultADMM(),
		Solver:       DefaultSolverConfig(),
		Partition:    DefaultPartitionConfig(),
		LogLevel:     "info",
		LogFormat:    "json",
		SolutionPath: "solution.csv",
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A missing
// file is not an error: the CLI may run with defaults plus flag overrides
// only, matching the teacher CLI's `--config` being optional.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configuration errors at startup (spec.md §7: "fatal at
// startup with clear message").
func (c Config) Validate() error {
	if !c.Algorithm.Valid() {
		return fmt.Errorf("config: unsupported algorithm %q", c.Algorithm)
	}
	if c.InstanceDir == "" {
		return fmt.Errorf("config: instance directory is required")
	}
	if c.Partition.Epsilon <= 0 || c.Partition.Epsilon >= 0.5 {
		return fmt.Errorf("config: partition epsilon must be in (0, 0.5), got %v", c.Partition.Epsilon)
	}
	if c.DemandScale <= 0 {
		return fmt.Errorf("config: demand_scale must be positive, got %v", c.DemandScale)
	}
	if c.LimitScale <= 0 {
		return fmt.Errorf("config: limit_scale must be positive, got %v", c.LimitScale)
	}
	return nil
}
