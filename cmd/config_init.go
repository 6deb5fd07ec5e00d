package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/taskloom/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

// configInitCmd interactively collects the Project tunables table (§3)
// and writes config.json, the same interactive-wizard-then-write-JSON
// shape as the teacher's onboard flow, scoped down to the tunables this
// engine actually reads.
func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit()
		},
	}
}

func runConfigInit() error {
	cfg := config.Default()

	bufferMaxTurns := strconv.Itoa(cfg.Project.BufferMaxTurns)
	bufferMaxOverflow := strconv.Itoa(cfg.Project.BufferMaxOverflow)
	bufferTTL := strconv.Itoa(cfg.Project.BufferTTLSeconds)
	previousTurns := strconv.Itoa(cfg.Project.PreviousMessagesTurns)
	maxIterations := strconv.Itoa(cfg.Project.TaskAgentMaxIterations)
	llmModel := cfg.LLM.Model
	metricsAddr := cfg.Telemetry.MetricsAddr

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("buffer_max_turns — flush threshold").Value(&bufferMaxTurns),
			huh.NewInput().Title("buffer_max_overflow — hard cap before eager drain").Value(&bufferMaxOverflow),
			huh.NewInput().Title("buffer_ttl_seconds — idle flush delay").Value(&bufferTTL),
			huh.NewInput().Title("previous_messages_turns — prior-context window").Value(&previousTurns),
			huh.NewInput().Title("task_agent_max_iterations — loop bound").Value(&maxIterations),
		),
		huh.NewGroup(
			huh.NewInput().Title("LLM model").Value(&llmModel),
			huh.NewInput().Title("Prometheus metrics listen address").Value(&metricsAddr),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("config wizard: %w", err)
	}

	var convErr error
	atoi := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil {
			convErr = fmt.Errorf("invalid integer %q: %w", s, err)
		}
		return n
	}
	cfg.Project.BufferMaxTurns = atoi(bufferMaxTurns)
	cfg.Project.BufferMaxOverflow = atoi(bufferMaxOverflow)
	cfg.Project.BufferTTLSeconds = atoi(bufferTTL)
	cfg.Project.PreviousMessagesTurns = atoi(previousTurns)
	cfg.Project.TaskAgentMaxIterations = atoi(maxIterations)
	if convErr != nil {
		return convErr
	}
	cfg.LLM.Model = llmModel
	cfg.Telemetry.MetricsAddr = metricsAddr

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := resolveConfigPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
