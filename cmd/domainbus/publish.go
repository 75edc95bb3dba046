package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimte/domainbus"
	"github.com/glimte/domainbus/contracts"
	"github.com/glimte/domainbus/outbox"
)

type publishFlags struct {
	email    string
	name     string
	token    string
	userID   int64
	tripID   int64
	title    string
	viaStore bool
}

func newPublishCmd(configPath *string) *cobra.Command {
	flags := &publishFlags{}

	cmd := &cobra.Command{
		Use:       "publish <password-reset|user-registered|trip-created>",
		Short:     "Publish a single domain event",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"password-reset", "user-registered", "trip-created"},
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := buildEvent(args[0], flags)
			if err != nil {
				return err
			}
			if flags.viaStore {
				return appendToOutbox(cmd.Context(), *configPath, event)
			}
			return publishNow(cmd.Context(), *configPath, event)
		},
	}

	cmd.Flags().StringVar(&flags.email, "email", "", "Recipient email address")
	cmd.Flags().StringVar(&flags.name, "name", "", "User display name")
	cmd.Flags().StringVar(&flags.token, "token", "", "Password reset token")
	cmd.Flags().Int64Var(&flags.userID, "user-id", 0, "User id")
	cmd.Flags().Int64Var(&flags.tripID, "trip-id", 0, "Trip id")
	cmd.Flags().StringVar(&flags.title, "title", "", "Trip title")
	cmd.Flags().BoolVar(&flags.viaStore, "outbox", false, "Write to the outbox store instead of publishing directly")
	return cmd
}

func buildEvent(kind string, flags *publishFlags) (contracts.DomainEvent, error) {
	switch kind {
	case "password-reset":
		addr, err := contracts.NewEmail(flags.email)
		if err != nil {
			return nil, err
		}
		if flags.token == "" {
			return nil, errors.New("--token is required")
		}
		return contracts.NewPasswordResetRequestedEvent(addr, flags.token, flags.name), nil

	case "user-registered":
		addr, err := contracts.NewEmail(flags.email)
		if err != nil {
			return nil, err
		}
		id, err := contracts.NewUserID(flags.userID)
		if err != nil {
			return nil, err
		}
		return contracts.NewUserRegisteredEvent(id, addr, flags.name), nil

	case "trip-created":
		id, err := contracts.NewUserID(flags.userID)
		if err != nil {
			return nil, err
		}
		return contracts.NewTripCreatedEvent(flags.tripID, flags.title, id), nil
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

func publishNow(ctx context.Context, configPath string, event contracts.DomainEvent) error {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	bus, err := domainbus.New(cfg, domainbus.WithLogger(logger))
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.Connect(ctx); err != nil {
		return err
	}
	if !bus.Connection().IsReady() {
		return errors.New("broker unreachable, event not published")
	}
	if err := bus.Publisher().Publish(ctx, event); err != nil {
		return err
	}

	fmt.Printf("Published %s\n", event.EventName())
	return nil
}

func appendToOutbox(ctx context.Context, configPath string, event contracts.DomainEvent) error {
	cfg, _, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	store, err := outbox.Open(cfg.Outbox.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.Append(ctx, tx, event)
	}); err != nil {
		return err
	}

	fmt.Printf("Stored %s in %s\n", event.EventName(), cfg.Outbox.Path)
	return nil
}
