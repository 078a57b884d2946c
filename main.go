package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/config"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/identify"
	"github.com/ossyrian/mixparse/internal/logging"
	"github.com/ossyrian/mixparse/internal/mixpath"
	"github.com/ossyrian/mixparse/internal/names"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mixparse",
	Short: "Inspect and extract Westwood MIX archives",
	Long: `mixparse reads MIX archives from Command & Conquer games, recovers entry
names and identifies entry contents, including archives nested in archives.

Archives are addressed with mix paths: "main.mix;conquer.mix?rules.ini"
opens conquer.mix inside main.mix and selects rules.ini. Entries without a
known name can be written as *XXXXXXXX* ids.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// archive settings
	rootCmd.PersistentFlags().String("games-dir", "", "directory with extra game definitions (*.toml)")
	rootCmd.PersistentFlags().String("game", "", "skip game detection and use this game")
	rootCmd.PersistentFlags().String("hash-method", "", "hash method for names in mix paths (Classic, CRC32)")
	rootCmd.PersistentFlags().Bool("legacy-only", false, "reject new-format headers")
	rootCmd.PersistentFlags().Bool("deep", false, "include the contents of nested archives")

	// output of list and info
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format (table, json)")

	// other opts
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")

	viper.BindPFlag("games_dir", rootCmd.PersistentFlags().Lookup("games-dir"))
	viper.BindPFlag("game", rootCmd.PersistentFlags().Lookup("game"))
	viper.BindPFlag("hash_method", rootCmd.PersistentFlags().Lookup("hash-method"))
	viper.BindPFlag("legacy_only", rootCmd.PersistentFlags().Lookup("legacy-only"))
	viper.BindPFlag("deep", rootCmd.PersistentFlags().Lookup("deep"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))

	rootCmd.AddCommand(listCmd, extractCmd, infoCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mixparse"))
		}
		viper.AddConfigPath("/etc/mixparse")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("MIXPARSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig unmarshals and validates the merged configuration and sets up logging.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("could not set up logging: %w", err)
	}
	return cfg, closer, nil
}

// session is an opened and identified mix path.
type session struct {
	cfg    *config.Config
	path   mixpath.Path
	chain  *mixpath.Chain
	result *identify.Result
	logs   io.Closer
}

func (s *session) Close() error {
	err := s.chain.Close()
	if s.logs != nil {
		s.logs.Close()
	}
	return err
}

// openSession opens the mix path in arg and identifies its innermost archive.
func openSession(arg string) (*session, error) {
	cfg, logs, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s, err := newSession(cfg, arg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	s.logs = logs
	return s, nil
}

func newSession(cfg *config.Config, arg string) (*session, error) {
	registry := hashing.DefaultRegistry()

	opts := []archive.Option{
		archive.WithNewFormat(!cfg.LegacyOnly),
		archive.WithLogger(slog.Default()),
	}
	// without a configured method, names in the path are tried under each
	methods := registry.Methods()
	if cfg.HashMethod != "" {
		m, err := registry.Get(cfg.HashMethod)
		if err != nil {
			return nil, err
		}
		methods = []hashing.Method{m}
	}

	games, err := loadGames(cfg)
	if err != nil {
		return nil, err
	}

	id, err := identify.New(
		identify.WithGames(games),
		identify.WithGame(cfg.Game),
		identify.WithRegistry(registry),
		identify.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}

	p, err := mixpath.Parse(arg)
	if err != nil {
		return nil, err
	}

	slog.Info("opening archive", "path", p.String())

	chain, err := mixpath.OpenAny(p, methods, opts...)
	if err != nil {
		return nil, err
	}

	res, err := id.Identify(chain.Leaf)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("failed to identify %s: %w", p, err)
	}

	slog.Info("identified archive",
		"archive", res.Archive,
		"game", res.Game,
		"database", res.Database,
		"entries", len(res.Entries),
		"named", res.Named,
	)

	return &session{cfg: cfg, path: p, chain: chain, result: res}, nil
}

// loadGames returns the built-in game definitions followed by those in the
// configured games directory.
func loadGames(cfg *config.Config) ([]*names.GameDefinition, error) {
	games, err := names.BuiltinDefinitions(slog.Default())
	if err != nil {
		return nil, err
	}
	if cfg.GamesDir == "" {
		return games, nil
	}

	extra, err := names.LoadDefinitionsDir(os.ExpandEnv(cfg.GamesDir), slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Debug("loaded extra game definitions", "dir", cfg.GamesDir, "count", len(extra))
	return append(games, extra...), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
