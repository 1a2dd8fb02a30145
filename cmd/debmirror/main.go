// Command debmirror synchronizes local copies of Debian-style package
// repositories, generalizing the teacher's cmd/main.go (which drove a
// single hard-coded repo.DittoRepo) into a cobra command that fans out
// across every mirror listed in a JSON configuration file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/debmirror/debmirror/internal/config"
	"github.com/debmirror/debmirror/internal/fetch"
	"github.com/debmirror/debmirror/internal/iosys"
	"github.com/debmirror/debmirror/internal/mirror"
	"github.com/debmirror/debmirror/internal/sign"
)

const (
	configPathEnv     = "DEBMIRROR_CONFIG_PATH"
	logLevelEnv       = "DEBMIRROR_LOG_LEVEL"
	workersEnv        = "DEBMIRROR_WORKERS"
	resignKeyEnv      = "DEBMIRROR_RESIGN_KEY"
	keyPassphraseEnv  = "DEBMIRROR_KEY_PASSPHRASE"
	defaultConfigPath = "debmirror.json"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath       string
	logLevel         string
	workers          int
	removeValidUntil bool
	resignKeyPath    string
	keyPassphrase    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "debmirror",
		Short: "Mirror Debian-style package repositories",
		Long: "debmirror synchronizes local copies of one or more Debian-style\n" +
			"package repositories described by a JSON configuration file,\n" +
			"optionally pruning architectures and sections and resigning the\n" +
			"resulting Release file with a local key.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirrors(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to mirrors JSON config file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().IntVar(&flags.workers, "workers", mirror.DefaultWorkers, "Number of concurrent download workers per mirror")
	cmd.Flags().BoolVar(&flags.removeValidUntil, "remove-valid-until", false, "Strip the Valid-Until field before resigning (requires --resign-key)")
	cmd.Flags().StringVar(&flags.resignKeyPath, "resign-key", "", "Path to an armored OpenPGP private key used to resign pruned Release files")
	cmd.Flags().StringVar(&flags.keyPassphrase, "key-passphrase", "", "Passphrase protecting --resign-key (required when --resign-key is set)")

	return cmd
}

func runMirrors(ctx context.Context, flags *rootFlags) error {
	applyEnvOverrides(flags)

	if flags.removeValidUntil && flags.resignKeyPath == "" {
		return errors.New("debmirror: --remove-valid-until requires --resign-key")
	}
	if flags.resignKeyPath != "" && flags.keyPassphrase == "" {
		return errors.New("debmirror: --resign-key requires --key-passphrase")
	}

	logger, err := newLogger(flags.logLevel)
	if err != nil {
		return err
	}

	configPath := flags.configPath
	if configPath == "" {
		configPath = defaultConfigPath
	}
	specs, err := config.LoadMirrors(configPath)
	if err != nil {
		return errors.Wrap(err, "debmirror: load config")
	}

	var keyring *sign.Keyring
	if flags.resignKeyPath != "" {
		keyring, err = loadResignKeyring(flags.resignKeyPath, flags.keyPassphrase)
		if err != nil {
			return err
		}
		defer keyring.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received interrupt, cancelling mirrors")
		cancel()
	}()

	fsys := iosys.NewOsFileSystem()
	fetcher := fetch.New(fsys, http.DefaultClient)

	opts := mirror.Options{
		ResignKeyring:    keyring,
		RemoveValidUntil: flags.removeValidUntil,
	}

	var failed []string
	for _, spec := range specs {
		if !spec.IsEnabled() {
			logger.Info("skipping disabled mirror", "source", spec.Source)
			continue
		}
		runner := mirror.NewRunner(fsys, fetcher, logger, flags.workers)
		logger.Info("starting mirror", "source", spec.Source, "destination", spec.Destination)

		lastUpdate := time.Now()
		for update := range runner.Mirror(ctx, spec, opts) {
			if time.Since(lastUpdate) >= time.Second {
				logger.Info("progress",
					"source", spec.Source,
					"downloaded", update.PackagesDownloaded,
					"total", update.TotalPackages,
					"current", update.CurrentFile,
				)
				lastUpdate = time.Now()
			}
		}

		if err := ctx.Err(); err != nil {
			failed = append(failed, spec.Source)
			break
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("debmirror: mirroring interrupted for: %s", strings.Join(failed, ", "))
	}
	logger.Info("all mirrors complete")
	return nil
}

func applyEnvOverrides(flags *rootFlags) {
	if v := os.Getenv(configPathEnv); v != "" && flags.configPath == "" {
		flags.configPath = v
	}
	if v := os.Getenv(logLevelEnv); v != "" && flags.logLevel == "info" {
		flags.logLevel = v
	}
	if v := os.Getenv(resignKeyEnv); v != "" && flags.resignKeyPath == "" {
		flags.resignKeyPath = v
	}
	if v := os.Getenv(keyPassphraseEnv); v != "" && flags.keyPassphrase == "" {
		flags.keyPassphrase = v
	}
	if v := os.Getenv(workersEnv); v != "" && flags.workers == mirror.DefaultWorkers {
		var w int
		if _, err := fmt.Sscanf(v, "%d", &w); err == nil && w > 0 {
			flags.workers = w
		}
	}
}

func loadResignKeyring(path, passphrase string) (*sign.Keyring, error) {
	armored, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "debmirror: read resign key %s", path)
	}
	kr, err := sign.LoadPrivateKey(string(armored), []byte(passphrase))
	if err != nil {
		return nil, errors.Wrap(err, "debmirror: load resign key")
	}
	return kr, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, errors.Errorf("debmirror: unknown --log-level %q", level)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), nil
}
