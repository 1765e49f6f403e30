package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Desarso/crmstream/models"
	"github.com/Desarso/crmstream/structured"
)

var parseFlags struct {
	view viewFlags
	json bool
}

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a saved assistant reply",
	Long:  `Reads a reply from file (or stdin) and renders its structured customer data.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runParse,
}

func init() {
	parseFlags.view.register(parseCmd)
	parseCmd.Flags().BoolVar(&parseFlags.json, "json", false, "print the parsed structure and view as JSON")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	content, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	info := structured.Parse(content)
	out := cmd.OutOrStdout()

	if parseFlags.json {
		resp := models.Parse_Response{Structured: info}
		if info != nil {
			view := parseFlags.view.project(info)
			resp.View = &view
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	term, err := parseFlags.view.terminal()
	if err != nil {
		return err
	}
	fmt.Fprint(out, term.Message(content, parseFlags.view.project(info)))
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(raw), nil
}
