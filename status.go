package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/store"
)

// Token state constants for status reporting.
const (
	tokenStateMissing  = "missing"
	tokenStateExpired  = "expired"
	tokenStateExpiring = "expiring"
	tokenStateValid    = "valid"
)

const neverPolled = "never"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured gateways and their token state",
		Long: `Display every configured gateway with the state of its stored token and
the outcome of its most recent poll cycle.

A token that is "expiring" is inside the refresh margin and will be
renewed on the next request. Poll history comes from the state database
written by 'ha-bosch run'.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusGateway is one row of the status report.
type statusGateway struct {
	DeviceID   string       `json:"device_id"`
	EntryID    string       `json:"entry_id"`
	Title      string       `json:"title"`
	TokenState string       `json:"token_state"`
	ExpiresAt  string       `json:"expires_at,omitempty"`
	LastCycle  *statusCycle `json:"last_cycle,omitempty"`
}

type statusCycle struct {
	StartedAt time.Time `json:"started_at"`
	Outcome   string    `json:"outcome"`
	Paths     int       `json:"paths"`
	Error     string    `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	entries, err := entry.List(cc.Cfg.EntriesDir())
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No gateways configured. Run 'ha-bosch login --device <serial>' to add one.")
		return nil
	}

	cycles := lastCycles(cmd.Context(), cc, entries)
	margin := cc.Cfg.Polling.TokenRefreshMarginDuration()

	gateways := make([]statusGateway, 0, len(entries))
	for _, e := range entries {
		g := statusGateway{
			DeviceID:   e.DeviceID,
			EntryID:    e.ID,
			Title:      e.Title,
			TokenState: tokenState(e.Token, margin),
			ExpiresAt:  e.Token.ExpiresAt,
		}

		if c, ok := cycles[e.DeviceID]; ok {
			g.LastCycle = &statusCycle{StartedAt: c.StartedAt, Outcome: c.Outcome, Paths: c.Paths, Error: c.Error}
		}

		gateways = append(gateways, g)
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(gateways)
	}

	printStatusTable(cmd.OutOrStdout(), gateways)

	return nil
}

func tokenState(tok oauth.Token, margin time.Duration) string {
	switch {
	case tok.AccessToken == "" || tok.RefreshToken == "":
		return tokenStateMissing
	case oauth.IsExpired(tok.ExpiresAt, 0):
		return tokenStateExpired
	case oauth.IsExpired(tok.ExpiresAt, margin):
		return tokenStateExpiring
	default:
		return tokenStateValid
	}
}

// lastCycles reads the newest recorded cycle per device. A missing or
// unreadable database only means no history is shown.
func lastCycles(ctx context.Context, cc *CLIContext, entries []*entry.Entry) map[string]store.Cycle {
	out := make(map[string]store.Cycle)

	if _, err := os.Stat(cc.Cfg.StorePath()); err != nil {
		return out
	}

	st, err := store.Open(ctx, cc.Cfg.StorePath(), cc.Logger)
	if err != nil {
		cc.Logger.Debug("state database unavailable", slog.String("error", err.Error()))
		return out
	}
	defer st.Close()

	for _, e := range entries {
		recent, err := st.RecentCycles(ctx, e.DeviceID, 1)
		if err != nil || len(recent) == 0 {
			continue
		}

		out[e.DeviceID] = recent[0]
	}

	return out
}

func printStatusTable(w io.Writer, gateways []statusGateway) {
	headers := []string{"DEVICE", "TITLE", "TOKEN", "EXPIRES", "LAST POLL", "OUTCOME"}
	rows := make([][]string, 0, len(gateways))

	for _, g := range gateways {
		expires := g.ExpiresAt
		if t, err := time.Parse(time.RFC3339, g.ExpiresAt); err == nil {
			expires = formatTime(t.Local())
		}

		last, outcome := neverPolled, ""
		if g.LastCycle != nil {
			last = formatTime(g.LastCycle.StartedAt.Local())
			outcome = g.LastCycle.Outcome
		}

		rows = append(rows, []string{g.DeviceID, g.Title, g.TokenState, expires, last, outcome})
	}

	printTable(w, headers, rows)
}
