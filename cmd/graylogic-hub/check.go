package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/script"
)

// errCompileFailed makes check exit non-zero once diagnostics are printed.
var errCompileFailed = errors.New("compilation failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile a program without running it",
	Long: `Assembles and compiles a program's setup and run text against the
configured script environment and prints the diagnostics. Nothing is stored
and nothing is executed. Exits 1 if compilation fails.`,
	Example: `  graylogic-hub check --run lights.go
  graylogic-hub check --setup setup.go --run run.go --json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("setup", "", "file holding the setup text")
	checkCmd.Flags().String("run", "", "file holding the run text")
	checkCmd.Flags().Bool("json", false, "print the compile report as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	setupPath, _ := cmd.Flags().GetString("setup")
	runPath, _ := cmd.Flags().GetString("run")
	asJSON, _ := cmd.Flags().GetBool("json")

	if setupPath == "" && runPath == "" {
		return errors.New("at least one of --setup or --run is required")
	}

	var src script.Source
	var err error
	if src.Setup, err = readOptional(setupPath); err != nil {
		return err
	}
	if src.Run, err = readOptional(runPath); err != nil {
		return err
	}

	cfg, err := checkConfig(cmd)
	if err != nil {
		return err
	}

	engine := automation.NewEngine(automation.Config{
		Includes:   cfg.Scripting.Includes,
		References: cfg.Scripting.References,
	}, automation.Deps{Logger: logging.New(cfg.Logging, version)})
	report := engine.Check(src)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	} else {
		for _, d := range report.Diagnostics {
			fmt.Fprintln(out, d.String())
		}
		if report.Succeeded {
			fmt.Fprintf(out, "ok %s (%dms)\n", report.Digest, report.DurationMS)
		}
	}

	if !report.Succeeded {
		return errCompileFailed
	}
	return nil
}

// checkConfig loads the config for its scripting section. A missing file is
// only an error when --config named it explicitly.
func checkConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath(cmd))
	if err == nil {
		return cfg, nil
	}
	if explicit == "" && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.Logging.Output = "stderr"
		cfg.Logging.Level = "warn"
		return cfg, nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
