package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/onboard-go/internal/jobstore"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	resultFormat string
	resultOutput string
)

var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Print the last finished company profile",
	Long: `Print the company profile stored by the last finished job, for review or
hand-off to the editor.

Examples:
  onboard result
  onboard result --format yaml
  onboard result -o profile.json`,
	Args: cobra.NoArgs,
	RunE: runResult,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the scraping service is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	resultCmd.Flags().StringVarP(&resultFormat, "format", "f", "json", "output format: json or yaml")
	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "", "write to file instead of stdout")
}

func runResult(cmd *cobra.Command, args []string) error {
	entry, err := store.LoadResult(cmd.Context())
	if errors.Is(err, jobstore.ErrNotFound) {
		fmt.Fprintln(cmd.OutOrStdout(), "No result stored yet. Run 'onboard start <domain>' first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}

	data, err := formatProfile(entry.Data, resultFormat)
	if err != nil {
		return err
	}

	if resultOutput == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if dir := filepath.Dir(resultOutput); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(resultOutput, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote profile to %s\n", resultOutput)
	return nil
}

// formatProfile renders the profile document as indented JSON or YAML.
func formatProfile(profile json.RawMessage, format string) ([]byte, error) {
	switch format {
	case "json", "":
		var buf bytes.Buffer
		if err := json.Indent(&buf, profile, "", "  "); err != nil {
			return nil, fmt.Errorf("format result: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case "yaml", "yml":
		var doc any
		if err := json.Unmarshal(profile, &doc); err != nil {
			return nil, fmt.Errorf("parse result: %w", err)
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("format result: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	if err := apiClient.Health(cmd.Context()); err != nil {
		return fmt.Errorf("service at %s is not healthy: %w", apiClient.BaseURL(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service at %s is healthy.\n", apiClient.BaseURL())
	return nil
}
