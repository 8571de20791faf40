package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lookingglass/internal/journal"
	"lookingglass/internal/lexicon"
	"lookingglass/internal/sim"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal     string
	Lexicon     string
	Filter      string
	StepTimeout time.Duration
}

// ScenarioSummary is the JSON form of one scenario result.
type ScenarioSummary struct {
	Name        string   `json:"name"`
	Pass        bool     `json:"pass"`
	Final       string   `json:"final"`
	Transitions []string `json:"transitions"`
	Spoken      []string `json:"spoken,omitempty"`
	Selfies     int      `json:"selfies"`
	Failures    int      `json:"failures"`
	Violations  []string `json:"violations,omitempty"`
}

// RunSummary is the JSON form of a whole run.
type RunSummary struct {
	Scenarios []ScenarioSummary `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-or-dir>...",
		Short: "Run playback scenarios against simulated devices",
		Long: `Run scenario files against the playback machine with simulated media.

Directories are searched for *.yaml files. Each scenario prints its
transition trace and whether its expectations held.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable scenario, etc.)

Examples:
  lookingglass-sim run ./scenarios
  lookingglass-sim run photo.yaml --lexicon ./lexicon.yaml
  lookingglass-sim run ./scenarios --filter "video-*" --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "also record transitions to this SQLite journal")
	cmd.Flags().StringVar(&opts.Lexicon, "lexicon", "", "pronunciation lexicon applied to narration")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files matching this glob")
	cmd.Flags().DurationVar(&opts.StepTimeout, "step-timeout", 5*time.Second, "wall-clock bound for each wait_for step")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, args []string) error {
	files, err := findScenarioFiles(args, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	simOpts := sim.Options{
		Logger:      opts.logger(cmd.ErrOrStderr()),
		StepTimeout: opts.StepTimeout,
	}
	if opts.Lexicon != "" {
		lex, err := lexicon.Load(opts.Lexicon)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load lexicon", err)
		}
		simOpts.Text = lex
	}
	if opts.Journal != "" {
		store, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer store.Close()
		simOpts.Journal = store
	}

	summary := RunSummary{Scenarios: make([]ScenarioSummary, 0, len(files))}
	out := cmd.OutOrStdout()
	for i, file := range files {
		sc, err := sim.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid scenario %s", file), err)
		}
		result, err := sim.Run(cmd.Context(), sc, simOpts)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s", file), err)
		}
		if result.Passed() {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Scenarios = append(summary.Scenarios, summarize(result))

		if opts.Format == "json" {
			continue
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := result.WriteTrace(out); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		status := "ok"
		if summary.Failed > 0 {
			status = "failed"
		}
		if err := writeJSON(out, status, summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "\n%d passed, %d failed\n", summary.Passed, summary.Failed)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, len(files)))
	}
	return nil
}

func summarize(result *sim.Result) ScenarioSummary {
	transitions := make([]string, 0, len(result.Transitions))
	for _, t := range result.Transitions {
		transitions = append(transitions, fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Trigger))
	}
	return ScenarioSummary{
		Name:        result.Name,
		Pass:        result.Passed(),
		Final:       string(result.Final),
		Transitions: transitions,
		Spoken:      result.Spoken,
		Selfies:     len(result.Selfies),
		Failures:    len(result.Failures),
		Violations:  result.Violations,
	}
}

// findScenarioFiles expands directories to their *.yaml files, sorted.
func findScenarioFiles(paths []string, filter string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
				continue
			}
			files = append(files, filepath.Join(path, name))
		}
	}
	if filter != "" {
		kept := files[:0]
		for _, file := range files {
			ok, err := filepath.Match(filter, filepath.Base(file))
			if err != nil {
				return nil, fmt.Errorf("bad filter: %w", err)
			}
			if ok {
				kept = append(kept, file)
			}
		}
		files = kept
	}
	sort.Strings(files)
	return files, nil
}
