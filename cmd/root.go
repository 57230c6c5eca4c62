package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stine-notifier/stine/internal/utils"
	"github.com/stine-notifier/stine/pkg/core"
	"github.com/stine-notifier/stine/pkg/entity"
)

var cfgFile string

const (
	LOGO = `	     _   _
	 ___| |_(_)_ __   ___
	/ __| __| | '_ \ / _ \
	\__ \ |_| | | | |  __/
	|___/\__|_|_| |_|\___|
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stine",
	Short: "Cached access to the STINE campus portal with change notifications.",
	Long: LOGO + `
stine logs in to the University of Hamburg's STINE portal, keeps what it
fetched in a local cache and reports new exam results, documents and
registration periods since the last run.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// The exit status reflects the class of the error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(core.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stine.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("platform", "", core.PlatformStine, "Portal backend. Available: stine, dev (offline sample data)")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().Duration("timeout", core.DefaultConfig().Timeout, "Deadline for the whole operation")

	viper.BindPFlag("http.proxy", rootCmd.PersistentFlags().Lookup("proxy"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func setDefaults() {
	def := core.DefaultConfig()
	viper.SetDefault("stine.username", "")
	viper.SetDefault("stine.password", "")
	viper.SetDefault("stine.base_url", "")
	viper.SetDefault("language", string(def.Language))
	viper.SetDefault("state_dir", "~/.config/stine")
	viper.SetDefault("cache.backend", def.CacheBackend)
	viper.SetDefault("cache.path", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("session.max_idle", def.SessionMaxIdle.String())
	viper.SetDefault("detect.level", def.DetectLevel.String())
	viper.SetDefault("http.retries", def.HTTPRetries)
	viper.SetDefault("concurrency", def.Concurrency)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(core.ExitCode(core.ErrConfig))
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".stine")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("STINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("stine.username", "STINE_USERNAME")
	viper.BindEnv("stine.password", "STINE_PASSWORD")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".stine.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s\n", err)
			} else {
				// It will hold the portal password.
				os.Chmod(configPath, 0o600)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(core.ExitCode(core.ErrConfig))
	}
}

// loadConfig turns the viper settings into a core.Config.
func loadConfig() (core.Config, error) {
	cfg := core.DefaultConfig()

	lang, err := entity.ParseLanguage(viper.GetString("language"))
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	level, err := entity.ParseLevel(viper.GetString("detect.level"))
	if err != nil {
		return cfg, fmt.Errorf("%w: detect.level: %w", core.ErrConfig, err)
	}
	stateDir, err := homedir.Expand(viper.GetString("state_dir"))
	if err != nil {
		return cfg, fmt.Errorf("%w: state_dir: %w", core.ErrConfig, err)
	}
	cachePath, err := homedir.Expand(viper.GetString("cache.path"))
	if err != nil {
		return cfg, fmt.Errorf("%w: cache.path: %w", core.ErrConfig, err)
	}

	cfg.Username = viper.GetString("stine.username")
	cfg.Password = viper.GetString("stine.password")
	cfg.BaseURL = viper.GetString("stine.base_url")
	cfg.Language = lang
	cfg.StateDir = stateDir
	cfg.CacheBackend = strings.ToLower(viper.GetString("cache.backend"))
	cfg.CachePath = cachePath
	cfg.Redis = core.RedisConfig{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}
	cfg.SessionMaxIdle = viper.GetDuration("session.max_idle")
	cfg.DetectLevel = level
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.HTTPRetries = viper.GetInt("http.retries")
	cfg.Proxy = viper.GetString("http.proxy")
	cfg.Concurrency = viper.GetInt("concurrency")
	return cfg, cfg.Validate()
}

// openCore builds the wiring for the selected platform. Commands that write
// state pass write=true and hold the state-dir lock until release is called.
func openCore(cmd *cobra.Command, write bool) (c *core.Core, release func(), err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	platform, _ := cmd.Flags().GetString("platform")

	var lock *utils.StateLock
	if write {
		if lock, err = utils.NewStateLock(cfg.StateDir); err != nil {
			return nil, nil, err
		}
		if err := lock.Lock(); err != nil {
			return nil, nil, err
		}
	}

	c, err = core.Open(cmd.Context(), cfg, platform,
		core.WithLogger(utils.Log),
		core.WithHTTPLogger(utils.HTTPLogger{Logger: utils.Log}),
	)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, nil, err
	}
	utils.Log.Debugf("Using platform %s, state in %s", c.Platform(), c.DBPath())

	release = func() {
		if err := c.Close(); err != nil {
			utils.Log.Warnf("Could not close state: %v", err)
		}
		if lock != nil {
			if err := lock.Unlock(); err != nil {
				utils.Log.Warnf("%v", err)
			}
		}
	}
	return c, release, nil
}

// languageFlag returns --lang, or the configured language when unset.
func languageFlag(cmd *cobra.Command, c *core.Core) (entity.Language, error) {
	s, _ := cmd.Flags().GetString("lang")
	if s == "" {
		return c.Config().Language, nil
	}
	lang, err := entity.ParseLanguage(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	return lang, nil
}

func levelFlag(cmd *cobra.Command) (entity.Level, error) {
	s, _ := cmd.Flags().GetString("level")
	level, err := entity.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	return level, nil
}

func kindArg(s string) (entity.Kind, error) {
	kind, err := entity.ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	return kind, nil
}
