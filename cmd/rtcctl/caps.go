package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mossy-p/rtc-coordinator/internal/models"
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Print the media router's RTP capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialServer(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		var resp models.RouterCapabilitiesResponse
		if err := c.Request(cmd.Context(), models.EventGetRouterRtpCapabilities, nil, &resp); err != nil {
			return err
		}
		var caps any
		if err := json.Unmarshal(resp.RouterRtpCapabilities, &caps); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), caps)
	},
}
