// Package commands contains the entityql CLI command definitions.
package commands

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlekbai/entityql/internal/document"
	"github.com/atlekbai/entityql/internal/schema"
	"github.com/atlekbai/entityql/internal/service"
	"github.com/atlekbai/entityql/internal/translate"
)

// session is what every subcommand works against once the model is loaded.
type session struct {
	cache  *schema.Cache
	svc    *service.TranslateService
	logger *slog.Logger
}

type rootOptions struct {
	model    string
	logLevel string
	session  *session
}

// NewRootCmd creates and returns the root command for the CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "entityql",
		Short:         "Translate entity queries to parameterized SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.model, "model", "m", "model.yaml", "Entity model file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newTranslateCmd(opts))
	rootCmd.AddCommand(newEntitiesCmd(opts))

	return rootCmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(o.logLevel))); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cache, err := document.LoadModel(o.model)
	if err != nil {
		return err
	}
	logger.Debug("model loaded", "path", o.model, "entities", cache.EntityCount())

	o.session = &session{
		cache:  cache,
		svc:    service.NewTranslateService(translate.New(cache), logger),
		logger: logger,
	}
	return nil
}

func (o *rootOptions) require() (*session, error) {
	if o.session == nil {
		return nil, errors.New("model not loaded")
	}
	return o.session, nil
}
