package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/agentic-research/photoman/internal/config"
	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/lock"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/materialize"
	"github.com/agentic-research/photoman/internal/remote"
)

var version = "dev"

var (
	cfgFile   string
	offline   bool
	configErr error
)

var rootCmd = &cobra.Command{
	Use:   "photoman",
	Short: "Photoman: a lazy local mirror of Google Drive photos",
	Long: `Photoman mirrors a Google Drive folder tree on demand. Folders are
listed the first time they are visited and files are downloaded the first
time they are read; everything fetched is kept in a local cache that
survives restarts. Raw camera files get a JPEG preview extracted next to
them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/photoman/config.yaml)")
	f.BoolVar(&offline, "offline", false, "serve only what is already cached")
	f.String("cache-dir", "", "cache directory (default: ~/.local/share/photoman)")
	f.String("db", "", "index database (default: <cache-dir>/index.db)")
	f.String("credentials", "", "OAuth client secret JSON")
	f.String("token", "", "OAuth token JSON")
	f.String("extractor", "", "raw preview extractor: exiv2 or exif")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "console or json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")

	bind := map[string]string{
		config.KeyCacheDir:    "cache-dir",
		config.KeyDBPath:      "db",
		config.KeyCredentials: "credentials",
		config.KeyToken:       "token",
		config.KeyExtractor:   "extractor",
		config.KeyLogLevel:    "log-level",
		config.KeyLogFormat:   "log-format",
		config.KeyMetricsAddr: "metrics-addr",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	configErr = config.ReadFile(viper.GetViper(), cfgFile)
}

// session is one opened cache: the process lock plus the Drive behind it.
type session struct {
	cfg   *config.Config
	drive *drive.Drive
	lock  *lock.Lock
}

func (s *session) close() {
	if err := s.drive.Close(); err != nil {
		logging.Error("close drive", zap.Error(err))
	}
	if err := s.lock.Release(); err != nil {
		logging.Error("release lock", zap.Error(err))
	}
	_ = logging.Sync()
}

// withDrive resolves the configuration, opens the cache and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withDrive(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func openSession(ctx context.Context) (*session, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	l, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		return nil, err
	}
	d, err := openDrive(ctx, cfg)
	if err != nil {
		_ = l.Release()
		return nil, err
	}
	return &session{cfg: cfg, drive: d, lock: l}, nil
}

func openDrive(ctx context.Context, cfg *config.Config) (*drive.Drive, error) {
	var r remote.Remote = remote.Offline{}
	if !offline {
		client, err := remote.HTTPClient(ctx, cfg.Credentials, cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("%w (use --offline to browse the cache only)", err)
		}
		gd, err := remote.NewGoogleDrive(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		r = gd
	}

	x, err := materialize.NewExtractor(cfg.Extractor, cfg.Exiv2Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	d, err := drive.Open(ctx, cfg.DBPath, cfg.ContentDir(), remote.Instrument(r),
		drive.WithPipelineOptions(
			materialize.WithExtractor(x),
			materialize.WithRawKinds(cfg.RawKinds...),
		),
		drive.WithPrefetchConcurrency(cfg.PrefetchConcurrency),
	)
	if err != nil {
		return nil, err
	}

	if cfg.SweepOnStart {
		report, err := d.Pipeline().Sweep(ctx)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("sweep: %w", err)
		}
		if len(report.Removed) > 0 || len(report.Cleared) > 0 {
			logging.Info("startup sweep",
				zap.Int("removed", len(report.Removed)),
				zap.Int("cleared", len(report.Cleared)))
		}
	}
	return d, nil
}
