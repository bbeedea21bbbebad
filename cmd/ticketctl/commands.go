package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/qringest"
	"github.com/MarkoPoloResearchLab/ticketgate/internal/storefront"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

func newConnectCommand(cfg *storefront.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Sign the login challenge and store the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				session, err := app.Auth.Login(ctx)
				if err != nil {
					return err
				}
				printSession(cmd, session)
				return nil
			})
		},
	}
}

func newDisconnectCommand(cfg *storefront.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the stored wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				if err := app.Auth.Disconnect(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
				return nil
			})
		},
	}
}

func newWhoamiCommand(cfg *storefront.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				session, ok, err := app.Auth.Current(ctx)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "not connected")
					return nil
				}
				printSession(cmd, session)
				return nil
			})
		},
	}
}

func newEventsCommand(cfg *storefront.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				events, err := app.API.Events(ctx)
				if err != nil {
					return err
				}
				for _, event := range events {
					printEventLine(cmd, event)
				}
				return nil
			})
		},
	}
}

func newEventCommand(cfg *storefront.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "event <event-id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := ticketing.NewEventID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				event, err := app.API.Event(ctx, eventID)
				if err != nil {
					return err
				}
				printEventDetail(cmd, event)
				return nil
			})
		},
	}
}

func newCreateEventCommand(cfg *storefront.Config) *cobra.Command {
	var (
		title       string
		description string
		date        string
		venue       string
		price       float64
		supply      int64
		imagePath   string
	)
	cmd := &cobra.Command{
		Use:   "create-event",
		Short: "Publish an event (organizers only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := time.Parse(time.RFC3339, date)
			if err != nil {
				return fmt.Errorf("date must be RFC 3339: %w", err)
			}
			request := gateway.CreateEventRequest{
				Title:       title,
				Description: description,
				Date:        startsAt,
				Venue:       venue,
				TicketPrice: price,
				TotalSupply: supply,
			}
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				created, err := app.CreateEvent(ctx, request, imagePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", created.Message, created.EventID)
				printEventDetail(cmd, created.Event)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&description, "description", "", "event description")
	cmd.Flags().StringVar(&date, "date", "", "event start, RFC 3339")
	cmd.Flags().StringVar(&venue, "venue", "", "venue")
	cmd.Flags().Float64Var(&price, "price", 0, "ticket price")
	cmd.Flags().Int64Var(&supply, "supply", 0, "number of tickets")
	cmd.Flags().StringVar(&imagePath, "image", "", "poster image file")
	for _, required := range []string{"title", "date", "venue", "supply"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}

func newMintCommand(cfg *storefront.Config) *cobra.Command {
	var (
		buyerImage string
		qrOut      string
	)
	cmd := &cobra.Command{
		Use:   "mint <event-id>",
		Short: "Mint a ticket for the connected wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := ticketing.NewEventID(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				response, payload, err := app.Mint(ctx, eventID, buyerImage)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "token_id: %d\n", response.TokenID)
				fmt.Fprintf(out, "tx_hash: %s\n", response.TxHash)
				fmt.Fprintf(out, "metadata_uri: %s\n", response.MetadataURI)
				fmt.Fprintf(out, "qr_code_data: %s\n", payload.Raw())
				if qrOut != "" {
					if err := qringest.WriteFile(payload, app.Config.QRSize, qrOut); err != nil {
						return err
					}
					fmt.Fprintf(out, "qr_code: %s\n", qrOut)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&buyerImage, "buyer-image", "", "photo of the ticket holder (JPEG or PNG)")
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "write the ticket QR code to this PNG file")
	_ = cmd.MarkFlagRequired("buyer-image")
	return cmd
}

func newTicketsCommand(cfg *storefront.Config) *cobra.Command {
	var qrDir string
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "List the connected wallet's tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				response, err := app.Tickets(ctx)
				if err != nil {
					return err
				}
				if qrDir != "" {
					if err := os.MkdirAll(qrDir, 0o755); err != nil {
						return err
					}
				}
				out := cmd.OutOrStdout()
				for _, ticket := range response.Tickets {
					payload, err := ticket.Payload()
					if err != nil {
						fmt.Fprintf(out, "#%d %s: unreadable qr data (%v)\n", ticket.TokenID, ticket.EventID, err)
						continue
					}
					fmt.Fprintf(out, "#%d %s %s\n", ticket.TokenID, ticket.EventID, ticketTitle(ticket))
					if qrDir == "" {
						continue
					}
					path := filepath.Join(qrDir, "ticket-"+strconv.FormatInt(ticket.TokenID, 10)+".png")
					if err := qringest.WriteFile(payload, app.Config.QRSize, path); err != nil {
						return err
					}
					fmt.Fprintf(out, "  qr_code: %s\n", path)
				}
				if len(response.BlockchainTickets) > 0 {
					fmt.Fprintf(out, "on-chain records: %d\n", len(response.BlockchainTickets))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&qrDir, "qr-dir", "", "render each ticket's QR code as a PNG in this directory")
	return cmd
}

func newVerifyCommand(cfg *storefront.Config) *cobra.Command {
	var request storefront.VerifyRequest
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a ticket QR code and a selfie with the verification authority",
		Long: "The ticket comes from --qr-text, --qr-image, or the scan camera when neither is set.\n" +
			"The selfie comes from the camera with --camera (falling back to --selfie when no camera is available) or from --selfie.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				outcome, err := app.Verify(ctx, request)
				if err != nil {
					return err
				}
				printOutcome(cmd, outcome)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&request.QRText, "qr-text", "", "ticket QR text pasted manually")
	cmd.Flags().StringVar(&request.QRImagePath, "qr-image", "", "image file containing the ticket QR code")
	cmd.Flags().BoolVar(&request.UseCamera, "camera", false, "capture the selfie from the camera")
	cmd.Flags().StringVar(&request.SelfiePath, "selfie", "", "selfie image file")
	cmd.Flags().IntVar(&request.Attempts, "attempts", 1, "submissions to make while the authority answers with an error status")
	return cmd
}

func newVerifyLogsCommand(cfg *storefront.Config) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "verify-logs",
		Short: "List recent verification attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, cfg, func(ctx context.Context, app *storefront.App) error {
				out := cmd.OutOrStdout()
				if local {
					attempts, err := app.LocalAttempts(ctx)
					if err != nil {
						return err
					}
					for _, attempt := range attempts {
						fmt.Fprintf(out, "%s #%d %s %s confidence=%s %s\n",
							attempt.CompletedAt.Format(time.RFC3339), attempt.TokenID, attempt.EventID, attempt.Status, attempt.Confidence, attempt.Message)
					}
					return nil
				}
				logs, err := app.API.VerificationLogs(ctx)
				if err != nil {
					return err
				}
				for _, entry := range logs {
					fmt.Fprintf(out, "%s #%d %s verified=%t %s\n", entry.VerifiedAt, entry.TokenID, entry.Status, entry.Verified, entry.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "read the attempts recorded by this client instead of the authority's log")
	return cmd
}
