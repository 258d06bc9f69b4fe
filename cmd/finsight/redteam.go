package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsight-ai/finsight/config"
	"github.com/finsight-ai/finsight/internal/redteam"
)

func redteamCMD() *cobra.Command {
	var cfgPath string
	var target string
	var timeout time.Duration
	var categories []string
	var authToken string
	var jsonOut bool

	var cmd = &cobra.Command{
		Use:   "redteam",
		Short: "Run the adversarial payload sweep against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			rt := cfg.RedTeam
			if target != "" {
				rt.Target = target
			}
			if timeout > 0 {
				rt.Timeout = timeout
			}
			if len(categories) > 0 {
				rt.Categories = categories
			}
			if authToken != "" {
				rt.AuthToken = authToken
			}
			rt = rt.Normalize()

			attacker := redteam.NewAttacker(rt, log.New(os.Stderr, "[REDTEAM] ", log.LstdFlags))
			results, err := attacker.Run(cmd.Context(), rt.Categories)
			if err != nil {
				return err
			}
			report := redteam.BuildReport(rt.Target, results)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Print(report.Render())
			}
			if !report.Passed {
				return fmt.Errorf("red team sweep failed: grade %s, defense rate %.1f%%", report.Grade, report.DefenseRate*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "base URL of the running server (default from config, http://localhost:8000)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "attack categories to run (default all)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "bearer token for authenticated targets")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the full report as JSON")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
