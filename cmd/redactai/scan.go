package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/redactai/redactai/internal/app"
	"github.com/redactai/redactai/internal/engine"
	"github.com/redactai/redactai/internal/safety"
)

var (
	scanFile     string
	scanJSON     bool
	scanFailOn   string
	scanPlatform string
)

var (
	colorBlock = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgYellow, color.Bold)
	colorSafe  = color.New(color.FgGreen, color.Bold)
	colorDim   = color.New(color.FgCyan)
)

var scanCmd = &cobra.Command{
	Use:   "scan [text...]",
	Short: "Assess text locally without recording it",
	Long: `Assess text with the configured detector and classifier and print the
decision. Text comes from the arguments, --file, or stdin when neither is
given. Nothing is written to the audit store.

  redactai scan "my api key is sk_live_abc123xyz"
  git diff | redactai scan --fail-on warn`,
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().StringVarP(&scanFile, "file", "f", "", "Read text from a file")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the assessment as JSON")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit non-zero when the decision is at least this tier (warn or block)")
	scanCmd.Flags().StringVar(&scanPlatform, "platform", "", "Platform the text is destined for")
	rootCmd.AddCommand(scanCmd)
}

func scanCommand(cmd *cobra.Command, args []string) error {
	failOn, err := parseFailOn(scanFailOn)
	if err != nil {
		return err
	}
	text, err := scanInput(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := app.BuildEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	a, err := eng.Assess(context.Background(), text, engine.Context{Platform: scanPlatform})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(a); err != nil {
			return err
		}
	} else {
		printAssessment(out, a, eng.Mode)
	}

	if failOn != "" && a.Decision.Rank() >= failOn.Rank() {
		return fmt.Errorf("decision %s meets --fail-on %s", a.Decision, strings.ToLower(string(failOn)))
	}
	return nil
}

func parseFailOn(v string) (safety.Decision, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case "warn":
		return safety.DecisionWarn, nil
	case "block":
		return safety.DecisionBlock, nil
	}
	return "", fmt.Errorf("--fail-on must be warn or block, got %q", v)
}

func scanInput(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case scanFile != "":
		data, err := os.ReadFile(scanFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", scanFile, err)
		}
		return string(data), nil
	default:
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "", errors.New("no input: pass text, --file, or pipe text on stdin")
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
}

func printAssessment(w io.Writer, a *safety.RiskAssessment, mode string) {
	c := colorSafe
	switch a.Decision {
	case safety.DecisionBlock:
		c = colorBlock
	case safety.DecisionWarn:
		c = colorWarn
	}
	c.Fprintf(w, "%s", a.Decision)
	fmt.Fprintf(w, "  score %d/100 (patterns %d, classifier %s)\n", a.OverallScore, a.PatternScore, mode)
	for _, d := range a.Detections {
		colorDim.Fprintf(w, "  - %-16s", d.Kind)
		fmt.Fprintf(w, " %-6s weight %d at %d-%d\n", d.Severity, d.Weight, d.Start, d.End)
	}
	fmt.Fprintln(w, a.Explanation)
}
