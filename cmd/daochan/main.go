package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/daochan/daochan/internal/app"
	"github.com/daochan/daochan/internal/config"
	"github.com/daochan/daochan/internal/connect"
	"github.com/daochan/daochan/internal/logging"
	"github.com/daochan/daochan/internal/wallet"
)

const (
	APIURLKey   = "api-url"
	KeyPathKey  = "key"
	LogLevelKey = "log-level"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:          "daochan",
		Short:        "Read, post and vote on a daochan forum",
		SilenceUsage: true,
	}
	flags := c.PersistentFlags()
	flags.String(APIURLKey, "", "Backend URL (default $API_URL)")
	flags.String(KeyPathKey, "", "Wallet key file (default $KEY_PATH)")
	flags.String(LogLevelKey, "", "Log level (default $LOG_LEVEL)")

	c.AddCommand(
		threadsCommand(),
		threadCommand(),
		postCommand(),
		commentCommand(),
		voteCommand(),
		signinCommand(),
		signoutCommand(),
		whoamiCommand(),
		keygenCommand(),
		serveCommand(),
	)
	return c
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Load()
	overrides := []struct {
		key string
		dst *string
	}{
		{APIURLKey, &cfg.APIBaseURL},
		{KeyPathKey, &cfg.KeyPath},
		{LogLevelKey, &cfg.LogLevel},
	}
	for _, o := range overrides {
		v, err := flags.GetString(o.key)
		if err != nil {
			return nil, err
		}
		if v != "" {
			*o.dst = v
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.LogLevel, "daochan", os.Stderr, cfg.LogConsole)
}

// openApp builds the client and connects the wallet in the key file, when
// there is one.
func openApp(c *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	a, err := app.New(c.Context(), cfg, log)
	if err != nil {
		return nil, err
	}

	w, err := wallet.Load(cfg.KeyPath)
	switch {
	case err == nil:
		a.Connect(w)
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", cfg.KeyPath).Msg("no wallet key, running anonymously")
	default:
		a.Close()
		return nil, err
	}
	return a, nil
}

// explain turns a gated action's refusal into a hint.
func explain(a *app.App, err error) error {
	if !errors.Is(err, connect.ErrNotAuthenticated) {
		return err
	}
	select {
	case req := <-a.ConnectRequests():
		return fmt.Errorf("sign in with an ENS name to %s: run daochan signin --ens-name <name>", req.Reason)
	default:
		return err
	}
}
