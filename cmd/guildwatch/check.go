package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"guildwatch/internal/config"
	"guildwatch/internal/tenant"
)

type checkResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Targets  int      `json:"targets"`
	Excluded []string `json:"excluded,omitempty"`
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Parse and validate the config file, including its targets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := checkConfig(flagConfigPath)
			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printCheck(res)
			}
			if !res.Valid {
				return fmt.Errorf("config %s is invalid", res.Path)
			}
			return nil
		},
	}
}

func checkConfig(path string) checkResult {
	res := checkResult{Path: path}
	cfg, err := config.ParseFile(path)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	targets, errs := tenant.FromConfig(cfg.Targets)
	res.Targets = len(targets)
	for _, e := range errs {
		res.Excluded = append(res.Excluded, e.Error())
	}
	res.Valid = len(errs) == 0
	return res
}

func printCheck(res checkResult) {
	if res.Error != "" {
		fmt.Printf("%s: invalid\n  %s\n", res.Path, res.Error)
		return
	}
	fmt.Printf("%s: %d target(s) ok\n", res.Path, res.Targets)
	for _, e := range res.Excluded {
		fmt.Printf("  excluded: %s\n", e)
	}
}
