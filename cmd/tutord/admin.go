package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/internal/app"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/booking"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagNote    = "note"
	flagAdminID = "admin-id"
	flagReason  = "reason"
)

func newDepositCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Review pending wallet deposits",
	}
	cmd.AddCommand(
		newDepositDecisionCommand(state, "approve", "Credit a pending deposit to the wallet", func(ctx context.Context, wallets *wallet.Service, id wallet.TransactionID, note string) (wallet.Transaction, error) {
			return wallets.ApproveDeposit(ctx, id, note)
		}),
		newDepositDecisionCommand(state, "reject", "Reject a pending deposit", func(ctx context.Context, wallets *wallet.Service, id wallet.TransactionID, note string) (wallet.Transaction, error) {
			return wallets.RejectDeposit(ctx, id, note)
		}),
	)
	return cmd
}

type depositDecision func(ctx context.Context, wallets *wallet.Service, id wallet.TransactionID, note string) (wallet.Transaction, error)

func newDepositDecisionCommand(state *rootState, use string, short string, decide depositDecision) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <transaction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transactionID, err := wallet.NewTransactionID(args[0])
			if err != nil {
				return err
			}
			note, err := cmd.Flags().GetString(flagNote)
			if err != nil {
				return err
			}
			return state.withRuntime(cmd.Context(), func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error {
				transaction, err := decide(ctx, runtime.Wallets, transactionID, note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deposit %s %s (%s)\n", transaction.TransactionID, transaction.Status, transaction.Amount.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().String(flagNote, "", "admin note stored on the transaction")
	return cmd
}

func newBookingCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Administer bookings",
	}
	cancel := &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel a booking as an admin, refunding any escrowed funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adminID, err := cmd.Flags().GetString(flagAdminID)
			if err != nil {
				return err
			}
			reason, err := cmd.Flags().GetString(flagReason)
			if err != nil {
				return err
			}
			actor, err := booking.NewActor(adminID, booking.RoleAdmin)
			if err != nil {
				return err
			}
			return state.withRuntime(cmd.Context(), func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error {
				cancelled, err := runtime.Bookings.AdminCancel(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "booking %s %s\n", cancelled.ID, cancelled.Status)
				return nil
			})
		},
	}
	cancel.Flags().String(flagAdminID, "", "id of the admin performing the cancellation")
	cancel.Flags().String(flagReason, "", "reason shared with both parties")
	_ = cancel.MarkFlagRequired(flagAdminID)
	cmd.AddCommand(cancel)
	return cmd
}

func newSettingsCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage platform settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-commission <rate>",
		Short: "Set the commission rate snapshotted onto new bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := wallet.ParseCommissionRate(args[0])
			if err != nil {
				return err
			}
			return state.withRuntime(cmd.Context(), func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error {
				if err := runtime.Settings.SetCommissionRate(ctx, rate, time.Now().UTC()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "commission rate set to %s\n", rate.Decimal().String())
				return nil
			})
		},
	})
	return cmd
}
