package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/store"
)

// exitReauth is the exit status when a gateway needs a new login.
const exitReauth = 2

// errReauthRequired marks failures that only a new login can fix.
var errReauthRequired = errors.New("re-authentication required")

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the SingleKey ID login URL",
		Long: `Print the URL that starts the SingleKey ID login.

Open it in a browser and sign in. The browser ends on a page it cannot
open (the app redirect); copy that address and pass it to 'ha-bosch login'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), oauth.BuildAuthURL())
			return err
		},
	}
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Add a gateway or renew its login",
		Long: `Exchange the authorization code from a SingleKey ID login for tokens
and store them in the gateway's entry.

The serial number may contain the dashes printed on the device label.
Without --callback-url the login URL is printed and the callback address
is read from stdin. Logging in again for a known gateway keeps its entry id.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().String("device", "", "gateway serial number")
	cmd.Flags().String("callback-url", "", "address the browser was redirected to after login")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	rawDevice, _ := cmd.Flags().GetString("device")

	deviceID, err := entry.NormalizeDeviceID(rawDevice)
	if err != nil {
		return err
	}

	callback, _ := cmd.Flags().GetString("callback-url")
	if callback == "" {
		cc.Statusf("Open this URL in a browser and sign in:\n\n%s\n\nPaste the address you were redirected to: ", oauth.BuildAuthURL())

		callback, err = readLine(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading callback URL: %w", err)
		}
	}

	code, ok := oauth.ExtractCode(callback)
	if !ok {
		return errors.New("no authorization code in the callback URL; run the login again")
	}

	mgr := oauth.NewManager(cc.Cfg.API.TokenURL, cc.httpClient(), cc.Cfg.Polling.TokenRefreshMarginDuration(), cc.Logger)

	tok, err := mgr.Exchange(cmd.Context(), code)
	if err != nil {
		return err
	}

	e, reauth, err := upsertEntry(entry.Path(cc.Cfg.EntriesDir(), deviceID), deviceID, tok)
	if err != nil {
		return err
	}

	if reauth {
		cc.Statusf("Renewed login for gateway %s (entry %s)\n", e.DeviceID, e.ID)
	} else {
		cc.Statusf("Added gateway %s (entry %s)\n", e.DeviceID, e.ID)
	}

	return nil
}

// upsertEntry stores tok for deviceID. An existing entry keeps its id and
// creation time; only the token changes. Reports whether the entry existed.
func upsertEntry(path, deviceID string, tok oauth.Token) (*entry.Entry, bool, error) {
	existing, err := entry.Load(path)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		existing.Token = tok
		existing.UpdatedAt = time.Now().UTC()

		if err := entry.Save(path, existing); err != nil {
			return nil, false, err
		}

		return existing, true, nil
	}

	e, err := entry.New(deviceID, tok)
	if err != nil {
		return nil, false, err
	}

	if err := entry.Save(path, e); err != nil {
		return nil, false, err
	}

	return e, false, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a gateway and its stored tokens",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}

	cmd.Flags().String("device", "", "gateway serial number")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	rawDevice, _ := cmd.Flags().GetString("device")

	deviceID, err := entry.NormalizeDeviceID(rawDevice)
	if err != nil {
		return err
	}

	path := entry.Path(cc.Cfg.EntriesDir(), deviceID)

	e, err := entry.Load(path)
	if err != nil {
		return err
	}

	if e == nil {
		return fmt.Errorf("no gateway %s is configured", deviceID)
	}

	if err := entry.Remove(path); err != nil {
		return err
	}

	// History is best effort: the entry is already gone.
	if _, statErr := os.Stat(cc.Cfg.StorePath()); statErr == nil {
		st, openErr := store.Open(cmd.Context(), cc.Cfg.StorePath(), cc.Logger)
		if openErr == nil {
			if err := st.Forget(cmd.Context(), deviceID); err != nil {
				cc.Logger.Warn("clearing stored history failed",
					slog.String("device", deviceID),
					slog.String("error", err.Error()),
				)
			}

			st.Close()
		}
	}

	cc.Statusf("Removed gateway %s\n", deviceID)

	return nil
}
