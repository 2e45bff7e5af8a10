package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/spf13/cobra"
)

func newSanitizeCmd(a *app) *cobra.Command {
	var mappingsPath string

	cmd := &cobra.Command{
		Use:   "sanitize [text...]",
		Short: "Redact emails, phones and names; prints the result as JSON",
		Long: `Redacts PII from the given text, or from stdin when no text is given.
An existing mapping list can be passed with --mappings and is extended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			mappings, err := readMappings(mappingsPath)
			if err != nil {
				return err
			}

			detector, err := privacy.New(a.cfg.Privacy, a.log.WithComponent("privacy"))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(detector.ProcessText(text, mappings))
		},
	}

	cmd.Flags().StringVarP(&mappingsPath, "mappings", "m", "", "JSON file with previous mappings")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var mappingsPath string

	cmd := &cobra.Command{
		Use:   "restore [text...]",
		Short: "Put original values back in place of placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			mappings, err := readMappings(mappingsPath)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), privacy.Restore(text, mappings))
			return err
		},
	}

	cmd.Flags().StringVarP(&mappingsPath, "mappings", "m", "", "JSON file with mappings (required)")
	cmd.MarkFlagRequired("mappings")
	return cmd
}

// readText joins the arguments, or reads stdin when there are none
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// readMappings accepts either a bare mapping list or a sanitize result
func readMappings(path string) ([]privacy.Mapping, error) {
	if path == "" {
		return []privacy.Mapping{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var result privacy.Result
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to parse mappings: %w", err)
		}
		return result.Mappings, nil
	}

	var mappings []privacy.Mapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse mappings: %w", err)
	}
	return mappings, nil
}
