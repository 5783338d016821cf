package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/repositories"
)

var Version = "dev"

// app holds the collaborators commands resolve lazily so tests can swap them.
type app struct {
	envFile      string
	logger       *zap.Logger
	loadConfig   func(ctx context.Context, envFile string, required ...string) (config.Config, error)
	openRegistry func(ctx context.Context, cfg config.Config) (repositories.Registry, error)
	newContainer func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*di.Container, error)
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	a := &app{
		logger:       logger.Named("storefrontctl"),
		loadConfig:   loadConfig(logger),
		openRegistry: di.OpenRegistry,
		newContainer: func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*di.Container, error) {
			return di.NewContainer(ctx, cfg, di.WithLogger(logger))
		},
	}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operational tooling for the storefront API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file layered under the process environment")

	root.AddCommand(migrateCmd(a))
	root.AddCommand(catalogCmd(a))
	root.AddCommand(paymentsCmd(a))
	return root
}

// loadConfig resolves secret references through Secret Manager the same way
// the server does.
func loadConfig(base *zap.Logger) func(ctx context.Context, envFile string, required ...string) (config.Config, error) {
	return func(ctx context.Context, envFile string, required ...string) (config.Config, error) {
		env, err := config.EnvironmentValues(config.WithEnvFile(envFile))
		if err != nil {
			return config.Config{}, err
		}
		opts := []secrets.Option{secrets.WithLogger(base.Named("secrets"))}
		if project := env["STOREFRONT_SECRET_PROJECT_ID"]; project != "" {
			opts = append(opts, secrets.WithProject(project))
		} else if project := env["STOREFRONT_FIREBASE_PROJECT_ID"]; project != "" {
			opts = append(opts, secrets.WithProject(project))
		}
		if path := env["STOREFRONT_SECRET_FALLBACK_FILE"]; path != "" {
			opts = append(opts, secrets.WithFallbackFile(path))
		}
		fetcher, err := secrets.NewFetcher(ctx, opts...)
		if err != nil {
			return config.Config{}, err
		}
		defer fetcher.Close()

		cfg, err := config.Load(ctx,
			config.WithEnvFile(envFile),
			config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
			config.WithRequiredSecrets(required...),
		)
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return config.Config{}, fmt.Errorf("missing required secrets: %v", missing.RedactedNames())
		}
		return cfg, err
	}
}
