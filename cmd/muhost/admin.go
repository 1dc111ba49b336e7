package main

import (
	"encoding/json"
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"muhost/internal/config"
)

func newCacheCmd(v *viper.Viper) *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Result cache maintenance"}

	var includeWrapped bool
	clearCmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove cached results (and optionally converted checkpoints)",
		Example: "  muhost cache clear --include-wrapped",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := newLogger(v.GetString("log-level"), v.GetString("log-format"), v.GetString("log-file"))
			if err != nil {
				return err
			}
			defer closeLog()
			svc, err := openService(v, log)
			if err != nil {
				return err
			}
			defer svc.Close()
			n, err := svc.ClearCache(includeWrapped)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries from %s\n", n, svc.CacheDir())
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&includeWrapped, "include-wrapped", false, "Also remove wrapped_models/")
	cacheCmd.AddCommand(clearCmd)
	return cacheCmd
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Inspect persisted settings"}

	var format string
	showCmd := &cobra.Command{
		Use:     "show",
		Short:   "Print the effective settings (creating the file with defaults if missing)",
		Example: "  muhost config show --format yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths(v)
			if err != nil {
				return err
			}
			settings, err := config.EnsureFile(p.settings)
			if err != nil {
				return err
			}
			return writeSettings(cmd.OutOrStdout(), settings, format)
		},
	}
	showCmd.Flags().StringVar(&format, "format", "json", "Output format: json|yaml|toml")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.settings)
			return nil
		},
	}
	configCmd.AddCommand(showCmd, pathCmd)
	return configCmd
}

func writeSettings(w io.Writer, s config.Settings, format string) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(s)
	case "toml":
		return toml.NewEncoder(w).Encode(s)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
