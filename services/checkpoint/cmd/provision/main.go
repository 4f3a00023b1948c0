// Command provision creates staff accounts and changes their roles. Accounts
// are never created through the HTTP API. The password is read from
// CHECKPOINT_PASSWORD so it stays out of shell history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"checkpoint/internal/util"
	"checkpoint/pkg/domain"
	"checkpoint/pkg/store"
	"checkpoint/services/checkpoint/internal/app"
	"checkpoint/services/checkpoint/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (defaults to CHECKPOINT_CONFIG or config.yaml)")
		email      = flag.String("email", "", "account email (login key)")
		username   = flag.String("username", "", "username, defaults to the email")
		firstName  = flag.String("first-name", "", "display name")
		role       = flag.String("role", string(domain.DefaultRole), "admin, security or staff")
		setRole    = flag.Bool("set-role", false, "only change the role of an existing account")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)
	if cfg.DatabaseDriver == config.DriverMemory {
		log.Fatalf("provisioning needs a sql databaseDriver, got %q", cfg.DatabaseDriver)
	}

	gs, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(cfg.DatabaseDriver))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer gs.Close()

	a, err := app.New(app.Config{Store: gs, Tokens: store.NewGormTokenStore(gs.DB())})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var acct app.Account
	if *setRole {
		acct, err = a.SetRole(ctx, *email, domain.UserRole(strings.ToLower(*role)))
	} else {
		acct, err = a.ProvisionAccount(ctx, app.NewAccount{
			Username:  *username,
			Email:     *email,
			FirstName: *firstName,
			Password:  os.Getenv("CHECKPOINT_PASSWORD"),
			Role:      domain.UserRole(strings.ToLower(*role)),
		})
	}
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			for field, msgs := range verr.Fields {
				fmt.Fprintf(os.Stderr, "%s: %s\n", field, strings.Join(msgs, " "))
			}
			os.Exit(2)
		}
		log.Fatalf("provision failed: %v", err)
	}
	fmt.Printf("%s\t%s\t%s\n", acct.User.ID, acct.User.Email, acct.Role)
}
