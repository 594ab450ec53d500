package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the yaml form of the flags. Unset keys leave the flag
// default in place.
type fileConfig struct {
	MLTA        *bool   `yaml:"mlta"`
	TyPM        *bool   `yaml:"typm"`
	Phase       *int    `yaml:"phase"`
	Verbosity   *int    `yaml:"verbose-level"`
	SrcRoot     *string `yaml:"src-root"`
	ListFile    *string `yaml:"bc-list"`
	Output      *string `yaml:"output"`
	Format      *string `yaml:"format"`
	DumpCallees *bool   `yaml:"dump-callees"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &fc, nil
}

// applyConfigFile sets every flag the command line left unchanged from the
// file named by --config.
func applyConfigFile(cmd *cobra.Command, cfg *Config) error {
	if cfg.ConfigFile == "" {
		return nil
	}
	fc, err := loadConfigFile(cfg.ConfigFile)
	if err != nil {
		return err
	}

	values := map[string]string{}
	setBool := func(name string, v *bool) {
		if v != nil {
			values[name] = strconv.FormatBool(*v)
		}
	}
	setInt := func(name string, v *int) {
		if v != nil {
			values[name] = strconv.Itoa(*v)
		}
	}
	setString := func(name string, v *string) {
		if v != nil {
			values[name] = *v
		}
	}
	setBool("mlta", fc.MLTA)
	setBool("typm", fc.TyPM)
	setInt("phase", fc.Phase)
	setInt("verbose-level", fc.Verbosity)
	setString("src-root", fc.SrcRoot)
	setString("bc-list", fc.ListFile)
	setString("output", fc.Output)
	setString("format", fc.Format)
	setBool("dump-callees", fc.DumpCallees)

	flags := cmd.Flags()
	for name, value := range values {
		if flags.Changed(name) {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("config %s: %s: %w", cfg.ConfigFile, name, err)
		}
	}
	return nil
}
