package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimte/domainbus"
)

func newTopologyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the exchange, queues and bindings, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology(cmd.Context(), *configPath)
		},
	}
}

func runTopology(ctx context.Context, configPath string) error {
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
		return errors.New("broker unreachable, topology not declared")
	}

	fmt.Printf("Declared exchange %q, queue %q and dead letter queue %q\n",
		cfg.Broker.Exchange, cfg.Broker.Queue, cfg.Broker.DeadLetterQueue)
	return nil
}
