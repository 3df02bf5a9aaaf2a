package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// incidentsCmd is the support tooling for payments captured without an order.
func incidentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Inspect and resolve captured-without-order payments",
	}

	var patientID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open incidents of a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(opts, func(ctx context.Context, repo *repository.Repository) error {
				incidents, err := repo.ListOpenIncidents(ctx, patientID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(incidents)
			})
		},
	}
	listCmd.Flags().StringVar(&patientID, "patient", "", "patient id")
	_ = listCmd.MarkFlagRequired("patient")

	resolveCmd := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Mark an incident resolved once the payment was refunded or the order placed manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(opts, func(ctx context.Context, repo *repository.Repository) error {
				incident, err := repo.ResolveIncident(ctx, args[0])
				if errors.Is(err, repository.ErrIncidentNotFound) {
					return fmt.Errorf("no open incident %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Printf("resolved incident %s (transaction %s)\n", incident.ID, incident.TransactionID)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

func withRepository(opts *rootOptions, fn func(ctx context.Context, repo *repository.Repository) error) error {
	cfg, l, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	repo, err := openRepository(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			l.Warn("failed to close repository", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, repo)
}
