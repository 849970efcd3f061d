package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Sorbh/digital-photo-frame/internal/app"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/config"
	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/httpserver"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/middleware"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "photoframe",
		Short:        "Digital photo frame server",
		SilenceUsage: true,
		RunE:         runServe,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// A missing .env is fine; the environment may already be set.
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "hash-password",
			Short: "Print a bcrypt hash to use as ADMIN_PASSWORD",
			RunE:  runHashPassword,
		},
		&cobra.Command{
			Use:   "encrypt-secret [value]",
			Short: "Encrypt a secret with the configured KMS key for SECRET_BACKEND=kms",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runEncryptSecret,
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting photo frame server", "port", cfg.Port, "dev_mode", cfg.DevMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	handler := middleware.RequestLogger(logger)(middleware.SecurityHeaders(httpserver.Adapt(application)))
	srv := httpserver.New(cfg.Port, handler)
	logger.Info("listening", "addr", srv.Addr())
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	cmd.PrintErr("Password: ")
	password, err := readSecret(cmd.InOrStdin())
	cmd.PrintErrln()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runEncryptSecret(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.KMSKeyID == "" {
		return errors.New("KMS_KEY_ID is not set")
	}

	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		cmd.PrintErr("Secret: ")
		value, err = readSecret(cmd.InOrStdin())
		cmd.PrintErrln()
		if err != nil {
			return err
		}
	}
	if value == "" {
		return errors.New("secret must not be empty")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	ciphertext, err := crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID).Encrypt(ctx, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
	return nil
}

// readSecret reads a line without echo when in is a terminal.
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
