package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matzehuels/storyline/pkg/config"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// configAnnotation marks flags that override a config key.
const configAnnotation = "storyline_config_key"

// configFlag maps the named flag onto a config key. The binding takes
// effect for the command that runs, see loadConfig.
func configFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

func (c *CLI) bindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configAnnotation]; len(keys) == 1 && err == nil {
			err = c.viper.BindPFlag(keys[0], f)
		}
	})
	return err
}

// loadConfig reads the config file and applies environment and flag
// overrides.
func (c *CLI) loadConfig(cmd *cobra.Command) error {
	path := c.configPath
	if path == "" {
		if p := os.Getenv(envPrefix + "_CONFIG"); p != "" {
			path = p
		} else if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	c.configPath = path

	if err := c.bindFlags(cmd.Flags()); err != nil {
		return err
	}
	overlay(c.viper, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.Config = cfg
	c.Logger.Debug("config resolved", "path", path)
	return nil
}

// overlay applies every key viper has a value for, from the environment
// or a bound flag.
func overlay(v *viper.Viper, cfg *config.Config) {
	floats := map[string]*float64{
		"layout.height":     &cfg.Layout.Height,
		"server.rate_limit": &cfg.Server.RateLimit,
	}
	ints := map[string]*int{
		"layout.margin_slots": &cfg.Layout.MarginSlots,
		"server.burst":        &cfg.Server.Burst,
	}
	strs := map[string]*string{
		"layout.ordering":     &cfg.Layout.Ordering,
		"server.addr":         &cfg.Server.Addr,
		"cache.backend":       &cfg.Cache.Backend,
		"cache.dir":           &cfg.Cache.Dir,
		"cache.redis_addr":    &cfg.Cache.RedisAddr,
		"query.cluster_field": &cfg.Query.ClusterField,
		"query.backend_url":   &cfg.Query.BackendURL,
	}
	durations := map[string]*config.Duration{
		"cache.ttl":     &cfg.Cache.TTL,
		"query.timeout": &cfg.Query.Timeout,
	}

	for k, p := range floats {
		if v.IsSet(k) {
			*p = v.GetFloat64(k)
		}
	}
	for k, p := range ints {
		if v.IsSet(k) {
			*p = v.GetInt(k)
		}
	}
	for k, p := range strs {
		if v.IsSet(k) {
			*p = v.GetString(k)
		}
	}
	for k, p := range durations {
		if v.IsSet(k) {
			p.Duration = v.GetDuration(k)
		}
	}
}

// configCommand creates the config management command.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration",
		Long: `Show or initialize the storyline configuration.

Configuration precedence (highest first):
  1. Command-line flags
  2. Environment variables (STORYLINE_LAYOUT_HEIGHT, STORYLINE_CACHE_BACKEND, ...)
  3. Config file (TOML)
  4. Defaults`,
	}
	cmd.AddCommand(c.configShowCommand())
	cmd.AddCommand(c.configInitCommand())
	cmd.AddCommand(c.configPathCommand())
	return cmd
}

func (c *CLI) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			if err := toml.NewEncoder(&buf).Encode(c.Config); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err := cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
}

func (c *CLI) configInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.configPath == "" {
				return fmt.Errorf("no config path; pass --config")
			}
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", c.configPath)
			}
			if err := config.Write(c.configPath, config.Default()); err != nil {
				return err
			}
			printSuccess("Created default configuration")
			printFile(c.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (c *CLI) configPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.configPath)
			return nil
		},
	}
}
