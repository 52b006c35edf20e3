package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// withApp builds the app for a one-shot command, logging to stderr, and
// closes it when fn returns.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token pair",
		Long: `Signs in to ThingsBoard and persists the access and refresh tokens in the
configured credential store. The password is read from TBDASH_PASSWORD or,
with --password-stdin, from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = os.Getenv("TBDASH_USERNAME")
			}
			if username == "" {
				return errors.New("--username is required")
			}
			password, err := readPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return err
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				resp, err := a.client.Login(ctx, username, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (user %s)\n", username, resp.UserID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username (default $TBDASH_USERNAME)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// readPassword takes the password from stdin when asked, else TBDASH_PASSWORD.
func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		if p := os.Getenv("TBDASH_PASSWORD"); p != "" {
			return p, nil
		}
		return "", errors.New("no password: set TBDASH_PASSWORD or use --password-stdin")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func newSignupCmd(opts *rootOptions) *cobra.Command {
	var req thingsboard.SignupRequest
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new customer user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return err
			}
			req.Password = password

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				user, err := a.client.Signup(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (user %s)\n", user.Email, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.client.Restore(ctx); err != nil {
					a.log.Warn("stored session unreadable; clearing anyway", "error", err)
				}
				a.client.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSession(ctx); err != nil {
					return err
				}
				user, err := a.client.CurrentUser(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), user)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, user %s)\n", user.Email, user.Authority, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full profile as JSON")
	return cmd
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	var (
		deviceType string
		pageSize   int
		page       int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List tenant devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSession(ctx); err != nil {
					return err
				}

				var (
					devices []thingsboard.Device
					err     error
				)
				if deviceType != "" {
					devices, err = a.client.ListDevicesByType(ctx, deviceType)
				} else {
					devices, err = a.client.ListDevices(ctx, pageSize, page)
				}
				if err != nil {
					return err
				}

				if asJSON {
					return printJSON(cmd.OutOrStdout(), devices)
				}
				return printDevices(cmd.OutOrStdout(), devices)
			})
		},
	}

	cmd.Flags().StringVarP(&deviceType, "type", "t", "", "only devices of this type (pool, pump, energy_meter)")
	cmd.Flags().IntVar(&pageSize, "page-size", thingsboard.DefaultPageSize, "page size")
	cmd.Flags().IntVar(&page, "page", 0, "page number, from 0")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printDevices(w io.Writer, devices []thingsboard.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, d.Type)
	}
	return tw.Flush()
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "history <device-id> <key>",
		Short: "Print a numeric telemetry series as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return errors.New("--since must be positive")
			}
			deviceID, key := args[0], args[1]

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSession(ctx); err != nil {
					return err
				}

				device, err := a.client.DeviceByID(ctx, deviceID)
				if thingsboard.IsAuthError(err) {
					return err
				}
				if err != nil {
					a.log.Debug("device lookup failed; series unlabelled", "device_id", deviceID, "error", err)
					device = nil
				}

				end := time.Now()
				series, err := a.client.HistoricalSeries(ctx, deviceID, device, key, thingsboard.Range{
					StartTs: end.Add(-since).UnixMilli(),
					EndTs:   end.UnixMilli(),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), series)
			})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	return cmd
}

func newPumpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pump <device-id> <on|off>",
		Short: "Switch a pump on or off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := thingsboard.ParsePumpStatus(args[1])
			if err != nil {
				return err
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSession(ctx); err != nil {
					return err
				}
				if err := a.client.SetPumpStatus(ctx, args[0], status); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pump %s set %s\n", args[0], status)
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
