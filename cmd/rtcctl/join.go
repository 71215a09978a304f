package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mossy-p/rtc-coordinator/internal/client"
	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
)

var (
	flagNickname string
	flagCamera   bool
	flagMic      bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and print every event it receives",
	Long: `Join a room in mesh mode and print the events delivered to this peer,
one JSON object per line, until the room closes or the command is
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd, args[0])
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagNickname, "nickname", "n", "rtcctl", "nickname shown to other peers")
	joinCmd.Flags().BoolVar(&flagCamera, "camera", false, "announce the camera as on")
	joinCmd.Flags().BoolVar(&flagMic, "mic", false, "announce the microphone as on")
}

func dialServer(ctx context.Context) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()
	return client.Dial(dialCtx, flagServer, flagToken, flagTimeout, logger.NewFactory(flagLogLevel))
}

func joinRoom(cmd *cobra.Command, roomID string) error {
	ctx := cmd.Context()
	c, err := dialServer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Join(roomID, flagNickname); err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("connection closed")
			}
			if err := out.Encode(env); err != nil {
				return err
			}

			switch env.Event {
			case models.EventPeerList:
				if flagCamera || flagMic {
					status := models.MediaStatus{Camera: flagCamera, Microphone: flagMic}
					if err := c.Signal(roomID, "", models.SignalTypeStatus, status); err != nil {
						return err
					}
				}
			case models.EventRoomFull:
				return fmt.Errorf("room %s is full", roomID)
			case models.EventRoomClosed, models.EventRemoved:
				return nil
			}
		}
	}
}
