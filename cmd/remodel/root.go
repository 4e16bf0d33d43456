package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"github.com/aretw0/remodel"
	"github.com/aretw0/remodel/internal/logging"
	"github.com/aretw0/remodel/pkg/connector"
	"github.com/aretw0/remodel/pkg/persistence/middleware"
	"github.com/aretw0/remodel/pkg/registry"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "remodel",
	Short: "remodel reads and edits models stored in a remote repository",
	Long: `remodel opens one resource of a model repository, runs type queries
against it and applies edits in a single transaction.

Stores are addressed by URL: mem://, redis://host:port/db, sqlite:///dir,
loam:///dir or http(s)://host:port for a store served with "remodel serve".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML or JSON file with the model configuration")
	flags.String("url", "", "Store URL")
	flags.String("repo", "", "Repository name")
	flags.String("path", "", "Resource path inside the repository")
	flags.Bool("create", false, "Create the resource if it does not exist")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("metamodel", "", "YAML or JSON file with package definitions")
	flags.StringArray("mask", nil, "Regexp of attribute names stored as *** (repeatable)")
	flags.String("encryption-key", "", "Base64 AES-256 key sealing attribute values (or $"+encryptionKeyEnv+")")
	flags.StringArray("fallback-key", nil, "Older base64 key still accepted for reading (repeatable)")
}

// encryptionKeyEnv is read when --encryption-key is not given.
const encryptionKeyEnv = "REMODEL_ENCRYPTION_KEY"

// backendMiddleware builds the masking and encryption chain selected by
// flags. Masking runs first so masked values are sealed too.
func backendMiddleware(cmd *cobra.Command) ([]middleware.Middleware, error) {
	flags := cmd.Flags()
	var mws []middleware.Middleware

	if patterns, _ := flags.GetStringArray("mask"); len(patterns) > 0 {
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				return nil, fmt.Errorf("invalid --mask: %w", err)
			}
		}
		mws = append(mws, middleware.NewMaskingMiddleware(patterns))
	}

	encoded, _ := flags.GetString("encryption-key")
	if encoded == "" {
		encoded = os.Getenv(encryptionKeyEnv)
	}
	if encoded == "" {
		return mws, nil
	}
	active, err := decodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	config := middleware.EncryptionConfig{ActiveKey: active}
	fallbacks, _ := flags.GetStringArray("fallback-key")
	for _, f := range fallbacks {
		key, err := decodeKey(f)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback key: %w", err)
		}
		config.FallbackKeys = append(config.FallbackKeys, key)
	}
	return append(mws, middleware.NewEncryptionMiddleware(config)), nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("got %d bytes, want 32", len(key))
	}
	return key, nil
}

// newLogger builds the stderr logger selected by --log-level.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), lvl), nil
}

// resolveConfig layers explicit flags over the --config file over defaults.
func resolveConfig(cmd *cobra.Command) (remodel.Config, error) {
	flags := cmd.Flags()
	cfg := remodel.DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = remodel.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	if flags.Changed("url") {
		cfg.URL, _ = flags.GetString("url")
	}
	if flags.Changed("repo") {
		cfg.Repository, _ = flags.GetString("repo")
	}
	if flags.Changed("path") {
		cfg.Path, _ = flags.GetString("path")
	}
	if flags.Changed("create") {
		cfg.CreateMissing, _ = flags.GetBool("create")
	}
	return cfg, nil
}

// openModel loads the configured resource. The caller disposes it, and
// anything it did not commit explicitly is discarded.
func openModel(cmd *cobra.Command) (*remodel.Model, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	// Commands commit on success only.
	cfg.StoreOnDisposal = false

	mws, err := backendMiddleware(cmd)
	if err != nil {
		return nil, err
	}

	opts := []remodel.Option{
		remodel.WithLogger(logger),
		remodel.WithDialer(connector.New(connector.WithLogger(logger))),
		remodel.WithMiddleware(mws...),
	}
	if path, _ := cmd.Flags().GetString("metamodel"); path != "" {
		pkgs, err := registry.LoadPackages(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, remodel.WithPackages(pkgs...))
	}

	m := remodel.New(opts...)
	if err := m.Load(cmd.Context(), cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// dispose closes m and turns a failed commit or close into the command's error.
func dispose(ctx context.Context, m *remodel.Model) error {
	return m.Dispose(ctx).Err()
}

// terminalWidth returns the width of w when it is an interactive terminal, 0 otherwise.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
