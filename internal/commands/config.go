package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sdpower/usagebar-go/internal/config"
	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/types"
)

func NewConfigCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the usagebar configuration",
	}

	cmd.AddCommand(
		newConfigPathCommand(opts),
		newConfigShowCommand(opts),
		newConfigInitCommand(opts),
		newConfigSetCommand(opts),
	)
	return cmd
}

func newConfigPathCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.ResolvePath(opts.ConfigPath))
			return nil
		},
	}
}

func newConfigShowCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCommand(opts *GlobalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(opts.ConfigPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config: %w", err)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigSetCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Long: `Change a setting and save the configuration file.

Keys:
  refresh-interval   seconds between fetches: 30, 60, 120, 300 or 600
  notifications      on or off
  desktop            on or off`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := setConfigValue(&cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "refresh-interval":
		seconds, err := strconv.Atoi(value)
		if err != nil || !poller.ValidInterval(seconds) {
			return types.ValidationError{
				Field:   "poll.refresh_interval_sec",
				Message: fmt.Sprintf("%q is not one of %v", value, poller.AllowedIntervals),
			}
		}
		cfg.Poll.RefreshIntervalSec = seconds
	case "notifications":
		on, err := parseSwitch(value)
		if err != nil {
			return types.ValidationError{Field: "notifications.enabled", Message: err.Error()}
		}
		cfg.SetNotificationsEnabled(on)
	case "desktop":
		on, err := parseSwitch(value)
		if err != nil {
			return types.ValidationError{Field: "notifications.desktop", Message: err.Error()}
		}
		cfg.Notifications.Desktop = &on
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func parseSwitch(value string) (bool, error) {
	switch value {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not on or off", value)
}
