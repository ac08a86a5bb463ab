package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/migrate"
	"github.com/angelmondragon/credits-backend/pkg/security"
)

const (
	serviceKind = "create-account"
	// passwordEnv avoids putting the password on the command line.
	passwordEnv       = "CREDITS_BOOTSTRAP_PASSWORD"
	minPasswordLength = 8
)

type options struct {
	username string
	email    string
	role     enums.AccountRole
}

func parseOptions(args []string) (options, error) {
	var (
		opts options
		role string
	)
	flags := flag.NewFlagSet(serviceKind, flag.ContinueOnError)
	flags.StringVar(&opts.username, "username", "admin", "account username")
	flags.StringVar(&opts.email, "email", "", "account email")
	flags.StringVar(&role, "role", string(enums.AccountRoleAdmin), "user|admin")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	parsed, err := enums.ParseAccountRole(strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return options{}, err
	}
	opts.role = parsed
	if strings.TrimSpace(opts.email) == "" {
		return options{}, errors.New("-email is required")
	}
	return opts, nil
}

// readPassword prefers the environment and falls back to the first stdin line.
func readPassword(stdin io.Reader) (string, error) {
	password := os.Getenv(passwordEnv)
	if password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters (set %s or pipe it on stdin)", minPasswordLength, passwordEnv)
	}
	return password, nil
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"username": opts.username, "role": opts.role})

	if err := run(ctx, cfg, logg, opts); err != nil {
		logg.Error(ctx, "create account failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options) (err error) {
	password, err := readPassword(os.Stdin)
	if err != nil {
		return err
	}
	hash, err := security.HashPassword(password, cfg.Password)
	if err != nil {
		return err
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	svc, err := accounts.NewService(accounts.NewRepository(dbClient.DB()))
	if err != nil {
		return err
	}
	account, created, err := accounts.Provision(ctx, svc, accounts.CreateInput{
		Username:     opts.username,
		Email:        opts.email,
		PasswordHash: hash,
		Role:         opts.role,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "account_id", account.ID.String())
	if created {
		logg.Info(ctx, "account created")
	} else {
		logg.Info(ctx, "account already exists; left unchanged")
	}
	return nil
}
