package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/classifier"
	"github.com/user/adaptivechat/internal/dispatch"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Print the routing decision for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}

		instructions, err := rt.dispatch.Instructions.Render("", "")
		if err != nil {
			return err
		}
		result, err := rt.classifier.Classify(cmd.Context(), strings.Join(args, " "), nil, classifier.Options{
			Model:              cfg.Classifier.Model,
			SystemInstructions: instructions,
		})
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}

		out := struct {
			Decision any    `json:"decision"`
			Path     string `json:"path"`
			Elapsed  string `json:"elapsed"`
		}{
			Decision: result.Decision,
			Path:     dispatch.Route(result.Decision, cfg.Classifier.ConfidenceThreshold).String(),
			Elapsed:  result.Elapsed.String(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
