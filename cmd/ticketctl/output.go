package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/gateway"
	"github.com/MarkoPoloResearchLab/ticketgate/pkg/ticketing"
)

func printSession(cmd *cobra.Command, session ticketing.WalletSession) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wallet: %s\n", session.Address)
	fmt.Fprintf(out, "organizer: %t\n", session.IsOrganizer)
	if !session.TokenExpiresAt.IsZero() {
		fmt.Fprintf(out, "session expires: %s\n", session.TokenExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
}

func printEventLine(cmd *cobra.Command, event gateway.Event) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s  %d/%d left  %.4g\n",
		event.ID, event.Title, event.Date, event.Venue, event.Available(), event.TotalSupply, event.TicketPrice)
}

func printEventDetail(cmd *cobra.Command, event gateway.Event) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id: %s\n", event.ID)
	fmt.Fprintf(out, "title: %s\n", event.Title)
	if event.Description != "" {
		fmt.Fprintf(out, "description: %s\n", event.Description)
	}
	fmt.Fprintf(out, "date: %s\n", event.Date)
	fmt.Fprintf(out, "venue: %s\n", event.Venue)
	fmt.Fprintf(out, "price: %.4g\n", event.TicketPrice)
	fmt.Fprintf(out, "available: %d of %d\n", event.Available(), event.TotalSupply)
	if event.OrganizerAddress != "" {
		fmt.Fprintf(out, "organizer: %s\n", event.OrganizerAddress)
	}
}

func ticketTitle(ticket gateway.TicketRecord) string {
	if ticket.Event == nil {
		return ""
	}
	return ticket.Event.Title + " @ " + ticket.Event.Venue
}

// printOutcome renders exactly one of the four verdicts.
func printOutcome(cmd *cobra.Command, outcome ticketing.Outcome) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s\n", outcome.Status())
	if outcome.Message() != "" {
		fmt.Fprintf(out, "message: %s\n", outcome.Message())
	}
	fmt.Fprintf(out, "confidence: %s\n", outcome.Confidence())
	switch result := outcome.(type) {
	case ticketing.Verified:
		fmt.Fprintln(out, "entry: admit")
	case ticketing.Suspicious:
		fmt.Fprintln(out, "entry: manual review")
	case ticketing.Denied:
		fmt.Fprintln(out, "entry: refuse")
	case ticketing.Errored:
		fmt.Fprintln(out, "entry: retry")
		for _, hint := range result.Hints {
			fmt.Fprintf(out, "hint [%s]: %s\n", hint.Key, hint.Text)
		}
	}
}
