package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/pagerun/internal/adapters/ids"
	"github.com/bnema/pagerun/internal/adapters/repo/memory"
	sqliterepo "github.com/bnema/pagerun/internal/adapters/repo/sqlite"
	tomlrepo "github.com/bnema/pagerun/internal/adapters/repo/toml"
	"github.com/bnema/pagerun/internal/application"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/bnema/pagerun/internal/showcase"
	"github.com/spf13/viper"
)

const (
	configDir  = ".pagerun"
	configName = "config"
	envPrefix  = "PAGERUN"

	keySessionsBackend = "sessions.backend"
	keySessionsTTL     = "sessions.ttl"
	keyCacheTTL        = "cache.ttl"
	keyMaxReruns       = "driver.max_reruns"
	keyDelayScale      = "page.delay_scale"
	keyPageSeed        = "page.seed"
	keyLogLevel        = "log.level"

	backendTOML   = "toml"
	backendSQLite = "sqlite"
	backendMemory = "memory"
)

var errUnknownBackend = errors.New("unknown sessions backend")

type app struct {
	cfg        *viper.Viper
	logger     *slog.Logger
	state      *application.SessionStateService
	memo       *application.MemoStore
	page       *showcase.Page
	ids        ports.IDGenerator
	maxReruns  int
	sessionTTL time.Duration
	closers    []io.Closer
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.GetString(keyLogLevel), os.Stderr)
	if err != nil {
		return nil, err
	}

	repo, closers, err := newSessionRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire session repository: %w", err)
	}

	clock := ports.SystemClock{}

	return &app{
		cfg:    cfg,
		logger: logger,
		state:  application.NewSessionStateService(repo, clock),
		memo: application.NewMemoStore(
			application.WithMemoTTL(cfg.GetDuration(keyCacheTTL)),
			application.WithMemoClock(clock),
			application.WithMemoLogger(logger.With(slog.String("component", "memo"))),
		),
		page: showcase.New(showcase.Options{
			DelayScale: cfg.GetFloat64(keyDelayScale),
			Seed:       cfg.GetUint64(keyPageSeed),
		}),
		ids:        ids.NewULIDGenerator(),
		maxReruns:  cfg.GetInt(keyMaxReruns),
		sessionTTL: cfg.GetDuration(keySessionsTTL),
		closers:    closers,
	}, nil
}

// newDriver builds a driver over the shared state and memo stores. Every host
// brings its own presenter.
func (a *app) newDriver(presenter ports.Presenter) *application.Driver {
	return application.NewDriver(a.page.Run, a.state, a.memo, presenter,
		application.WithMaxReruns(a.maxReruns),
		application.WithDriverLogger(a.logger.With(slog.String("component", "driver"))),
	)
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadConfig() (*viper.Viper, error) {
	cfg := viper.New()
	cfg.SetDefault(keySessionsBackend, backendTOML)
	cfg.SetDefault(keyMaxReruns, application.DefaultMaxReruns)
	cfg.SetDefault(keyDelayScale, 1.0)
	cfg.SetDefault(keyLogLevel, "warn")

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg.SetConfigName(configName)
	cfg.SetConfigType("toml")
	cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return cfg, nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("parse %s: %w", keyLogLevel, err)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newSessionRepository(cfg *viper.Viper) (ports.SessionRepository, []io.Closer, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.GetString(keySessionsBackend)))

	switch backend {
	case backendTOML:
		repo, err := tomlrepo.NewSessionRepository(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case backendSQLite:
		repo, err := sqliterepo.NewSessionRepository(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repo, []io.Closer{repo}, nil
	case backendMemory:
		return memory.NewSessionRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownBackend, backend)
	}
}
