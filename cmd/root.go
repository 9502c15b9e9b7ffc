package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared by the subcommands
	seed       int64  // RNG seed for reproducible studies
	logLevel   string // log verbosity level
	configPath string // optional YAML study configuration

	// Simulation parameters
	subjects        int     // number of subjects
	timepoints      int     // timepoints per subject
	intercept       float64 // population baseline mood
	timeCoef        float64 // slope per raw timepoint
	drugCoef        float64 // treatment main effect
	interactionCoef float64 // treatment-by-time interaction
	noiseStd        float64 // residual standard deviation
	drugProb        float64 // treatment-arm assignment probability

	// Fitting and output parameters
	useREML   bool   // fit by REML instead of ML
	outputDir string // directory for rendered figures
	csvPath   string // CSV destination for the simulate subcommand
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "clinical-trials-analyses",
	Short: "Simulate a longitudinal mood trial and fit mixed-effects models",
}

// setupLogging applies the --log flag.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, simulateCmd} {
		c.Flags().Int64Var(&seed, "seed", 42, "Seed for random data generation")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&configPath, "config", "", "YAML study configuration file (flags override)")

		c.Flags().IntVar(&subjects, "subjects", 150, "Number of subjects")
		c.Flags().IntVar(&timepoints, "timepoints", 6, "Timepoints per subject")
		c.Flags().Float64Var(&intercept, "intercept", 6.0, "Population baseline mood")
		c.Flags().Float64Var(&timeCoef, "time-coef", 0.3, "Mood slope per raw timepoint")
		c.Flags().Float64Var(&drugCoef, "drug-coef", 2.5, "Treatment main effect")
		c.Flags().Float64Var(&interactionCoef, "interaction-coef", 0.5, "Treatment-by-time interaction")
		c.Flags().Float64Var(&noiseStd, "noise-std", 1.0, "Residual standard deviation")
		c.Flags().Float64Var(&drugProb, "drug-prob", 0.5, "Treatment-arm assignment probability")
	}

	runCmd.Flags().BoolVar(&useREML, "reml", false, "Fit by REML (the likelihood-ratio test refits with ML)")
	runCmd.Flags().StringVar(&outputDir, "out", "figures", "Directory for rendered figures")
	simulateCmd.Flags().StringVar(&csvPath, "csv", "", "CSV output path (default stdout)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
}
