package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mossy-p/rtc-coordinator/internal/client"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"room"},
	Short:   "List, inspect, create and delete rooms",
}

func init() {
	roomsCmd.AddCommand(roomsListCmd, roomsGetCmd, roomsCreateCmd, roomsDeleteCmd, roomsKickCmd)
}

var roomsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live rooms",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		rooms, err := client.NewAdmin(flagServer, flagToken).ListRooms(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROOM\tPEERS\tHOST\tCREATOR")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\n", r.ID, r.PeerCount, r.Capacity, orDash(r.HostID), orDash(r.CreatorID))
		}
		return w.Flush()
	},
}

var roomsGetCmd = &cobra.Command{
	Use:   "get <room>",
	Short: "Show one room with its peers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		meta, err := client.NewAdmin(flagServer, flagToken).GetRoom(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), meta)
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create [room]",
	Short: "Create a room, with a generated id when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		a, err := admin(ctx)
		if err != nil {
			return err
		}
		var roomID string
		if len(args) == 1 {
			roomID = args[0]
		}
		if roomID, err = a.CreateRoom(ctx, roomID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), roomID)
		return nil
	},
}

var roomsDeleteCmd = &cobra.Command{
	Use:     "delete <room>",
	Aliases: []string{"rm"},
	Short:   "Close a room and disconnect its peers from it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		a, err := admin(ctx)
		if err != nil {
			return err
		}
		return a.DeleteRoom(ctx, args[0])
	},
}

var roomsKickCmd = &cobra.Command{
	Use:   "kick <room> <peer>",
	Short: "Remove one peer from a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		a, err := admin(ctx)
		if err != nil {
			return err
		}
		return a.RemovePeer(ctx, args[0], args[1])
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
