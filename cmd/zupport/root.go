package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zupport/zupport/internal/config"
	"github.com/zupport/zupport/internal/version"
)

// cli holds the state shared by the subcommands.
type cli struct {
	cfgFile string
	v       *viper.Viper
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "zupport",
		Short:         "Run geoprocessing tools from plugins as queued jobs",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "",
		"config file (default: ./zupport.yaml or ~/.config/zupport/zupport.yaml)")
	root.PersistentFlags().String("data-dir", "", "directory for the result database and scheduler state")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")

	_ = c.v.BindPFlag("data_dir", root.PersistentFlags().Lookup("data-dir"))
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))
	c.v.SetEnvPrefix("ZUPPORT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		c.toolsCmd(),
		c.runCmd(),
		c.submitCmd(),
		c.scanCmd(),
		c.serveCmd(),
		c.resultsCmd(),
		c.versionCmd(),
	)
	return root
}

// overrides lists the viper keys that flags and ZUPPORT_* environment
// variables may override.
var overrides = []struct {
	key  string
	flag string
	env  string
}{
	{"data_dir", "data-dir", "ZUPPORT_DATA_DIR"},
	{"log.level", "log-level", "ZUPPORT_LOG_LEVEL"},
	{"log.format", "log-format", "ZUPPORT_LOG_FORMAT"},
}

// loadConfig locates the config file with viper, parses it with the
// config package and applies flag and environment overrides.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.SetConfigName("zupport")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".config", "zupport"))
		}
	}

	var cfg *config.Config
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg = config.Default()
	} else {
		cfg, err = config.Load(c.v.ConfigFileUsed())
		if err != nil {
			return nil, err
		}
	}

	for _, o := range overrides {
		_, fromEnv := os.LookupEnv(o.env)
		if !cmd.Flags().Changed(o.flag) && !fromEnv {
			continue
		}
		val := c.v.GetString(o.key)
		switch o.key {
		case "data_dir":
			cfg.DataDir = val
		case "log.level":
			cfg.Log.Level = val
		case "log.format":
			cfg.Log.Format = val
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp loads the config, wires the app, runs fn and tears it down.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, c.errOut)
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
