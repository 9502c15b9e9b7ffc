package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mickeyrice/clinical-trials-analyses/trial"
)

// StudyConfig is the fully resolved study configuration after merging the
// optional YAML file with the CLI flags.
type StudyConfig struct {
	Seed       int64
	Simulation SimulationConfig
	Models     []string
	REML       bool
	OutputDir  string
}

// SimulationConfig mirrors trial.GenConfig.
type SimulationConfig struct {
	Subjects        int
	Timepoints      int
	Intercept       float64
	TimeCoef        float64
	DrugCoef        float64
	InteractionCoef float64
	NoiseStd        float64
	DrugProb        float64
}

// studyFile is the YAML shape of the study configuration. Pointer fields
// distinguish a key that is absent from one explicitly set to its zero
// value, so a file may pin e.g. noise_std or interaction_coef to 0.
type studyFile struct {
	Seed       *int64         `yaml:"seed"`
	Simulation simulationFile `yaml:"simulation"`
	Models     []string       `yaml:"models"`
	REML       *bool          `yaml:"reml"`
	OutputDir  *string        `yaml:"output_dir"`
}

type simulationFile struct {
	Subjects        *int     `yaml:"subjects"`
	Timepoints      *int     `yaml:"timepoints"`
	Intercept       *float64 `yaml:"intercept"`
	TimeCoef        *float64 `yaml:"time_coef"`
	DrugCoef        *float64 `yaml:"drug_coef"`
	InteractionCoef *float64 `yaml:"interaction_coef"`
	NoiseStd        *float64 `yaml:"noise_std"`
	DrugProb        *float64 `yaml:"drug_prob"`
}

// defaultModels are the three study specifications: random intercept,
// correlated random intercept and slope, and random slope only.
var defaultModels = []string{
	"Mood ~ TimeScaled + Drug + (1 | Subject)",
	"Mood ~ TimeScaled * Drug + (TimeScaled | Subject)",
	"Mood ~ TimeScaled * Drug + (0 + TimeScaled | Subject)",
}

// loadStudyConfig reads the YAML file at path.
func loadStudyConfig(path string) (*studyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading study config: %w", err)
	}
	var cfg studyFile
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing study config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the parts the YAML layer owns; the generation parameters
// are validated again by trial.GenConfig.
func (c *studyFile) Validate() error {
	if len(c.Models) != 0 && len(c.Models) < 2 {
		return fmt.Errorf("study config must list at least two models for a comparison, got %d", len(c.Models))
	}
	return nil
}

// resolveStudy merges the optional YAML config with the CLI flags. Flags the
// user set explicitly win over file values; file values win over flag
// defaults.
func resolveStudy(cmd *cobra.Command) (*StudyConfig, error) {
	cfg := &StudyConfig{
		Seed: seed,
		Simulation: SimulationConfig{
			Subjects:        subjects,
			Timepoints:      timepoints,
			Intercept:       intercept,
			TimeCoef:        timeCoef,
			DrugCoef:        drugCoef,
			InteractionCoef: interactionCoef,
			NoiseStd:        noiseStd,
			DrugProb:        drugProb,
		},
		Models:    defaultModels,
		REML:      useREML,
		OutputDir: outputDir,
	}

	if configPath == "" {
		return cfg, nil
	}

	file, err := loadStudyConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}

	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if !changed("seed") && file.Seed != nil {
		cfg.Seed = *file.Seed
	}
	if !changed("subjects") && file.Simulation.Subjects != nil {
		cfg.Simulation.Subjects = *file.Simulation.Subjects
	}
	if !changed("timepoints") && file.Simulation.Timepoints != nil {
		cfg.Simulation.Timepoints = *file.Simulation.Timepoints
	}
	if !changed("intercept") && file.Simulation.Intercept != nil {
		cfg.Simulation.Intercept = *file.Simulation.Intercept
	}
	if !changed("time-coef") && file.Simulation.TimeCoef != nil {
		cfg.Simulation.TimeCoef = *file.Simulation.TimeCoef
	}
	if !changed("drug-coef") && file.Simulation.DrugCoef != nil {
		cfg.Simulation.DrugCoef = *file.Simulation.DrugCoef
	}
	if !changed("interaction-coef") && file.Simulation.InteractionCoef != nil {
		cfg.Simulation.InteractionCoef = *file.Simulation.InteractionCoef
	}
	if !changed("noise-std") && file.Simulation.NoiseStd != nil {
		cfg.Simulation.NoiseStd = *file.Simulation.NoiseStd
	}
	if !changed("drug-prob") && file.Simulation.DrugProb != nil {
		cfg.Simulation.DrugProb = *file.Simulation.DrugProb
	}
	if !changed("reml") && file.REML != nil {
		cfg.REML = *file.REML
	}
	if !changed("out") && file.OutputDir != nil {
		cfg.OutputDir = *file.OutputDir
	}
	if len(file.Models) > 0 {
		cfg.Models = file.Models
	}
	return cfg, nil
}

// genConfig converts the resolved simulation section.
func (c *StudyConfig) genConfig() trial.GenConfig {
	return trial.GenConfig{
		Subjects:        c.Simulation.Subjects,
		Timepoints:      c.Simulation.Timepoints,
		Intercept:       c.Simulation.Intercept,
		TimeCoef:        c.Simulation.TimeCoef,
		DrugCoef:        c.Simulation.DrugCoef,
		InteractionCoef: c.Simulation.InteractionCoef,
		NoiseStd:        c.Simulation.NoiseStd,
		DrugProb:        c.Simulation.DrugProb,
	}
}
