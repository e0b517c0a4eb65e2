package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/adaptivechat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("AdaptiveChat Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.API.BaseURL = prompt(scanner, "Backend base URL", cfg.API.BaseURL)
		cfg.API.Token = prompt(scanner, "Backend API token (optional)", cfg.API.Token)
		cfg.Classifier.Model = prompt(scanner, "Classifier model (optional)", cfg.Classifier.Model)

		threshold := prompt(scanner, "Confidence threshold", strconv.FormatFloat(cfg.Classifier.ConfidenceThreshold, 'f', -1, 64))
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Classifier.ConfidenceThreshold = v
		}

		entries := prompt(scanner, "Context entries sent to the classifier", strconv.Itoa(cfg.Classifier.MaxContextEntries))
		if n, err := strconv.Atoi(entries); err == nil {
			cfg.Classifier.MaxContextEntries = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
