package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/rtc-coordinator/internal/client"
)

var (
	flagServer   string
	flagToken    string
	flagUser     string
	flagTimeout  time.Duration
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rtcctl",
	Short: "Manage rooms on a signaling coordinator",
	Long: `rtcctl talks to a running coordinator. Room management goes through the
HTTP API; join and caps open a signaling connection.

Examples:
  rtcctl rooms list
  rtcctl --user alice rooms create standup
  rtcctl join standup --nickname bob`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", envOr("RTC_SERVER", "http://localhost:8080"), "coordinator base URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("RTC_TOKEN"), "admin token")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "log in as this user when no token is given")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "error", "client log level")

	rootCmd.AddCommand(loginCmd, roomsCmd, joinCmd, capsCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Obtain an admin token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		token, err := client.NewAdmin(flagServer, "").Login(ctx, args[0], args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// admin returns an API client, logging in first when --user is set and no
// token was given.
func admin(ctx context.Context) (*client.Admin, error) {
	a := client.NewAdmin(flagServer, flagToken)
	if flagToken == "" && flagUser != "" {
		if _, err := a.Login(ctx, flagUser, flagUser); err != nil {
			return nil, fmt.Errorf("login as %s: %w", flagUser, err)
		}
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
