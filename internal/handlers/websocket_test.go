package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/rtc-coordinator/internal/models"
)

func TestSignalingOverWebsocket(t *testing.T) {
	srv := newTestServer(t, nil, 50)
	alice := srv.dial(t)
	bob := srv.dial(t)

	send(t, alice, models.EventJoin, models.JoinRequest{RoomID: "lobby", Nickname: "alice"})
	next(t, alice, models.EventPeerList)

	send(t, bob, models.EventJoin, models.JoinRequest{RoomID: "lobby", Nickname: "bob"})
	var roster []models.PeerInfo
	if err := json.Unmarshal(next(t, bob, models.EventPeerList).Data, &roster); err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0].Nickname != "alice" {
		t.Fatalf("roster = %+v", roster)
	}

	var joined models.PeerInfo
	if err := json.Unmarshal(next(t, alice, models.EventPeerJoined).Data, &joined); err != nil {
		t.Fatal(err)
	}
	if joined.Nickname != "bob" {
		t.Fatalf("peer-joined = %+v", joined)
	}

	send(t, bob, models.EventRTCMessage, models.RTCMessage{
		RoomID: "lobby",
		Event:  models.SignalTypeOffer,
		Data:   json.RawMessage(`{"sdp":"v=0"}`),
	})
	var relayed models.RTCMessage
	if err := json.Unmarshal(next(t, alice, models.EventRTCMessage).Data, &relayed); err != nil {
		t.Fatal(err)
	}
	if relayed.From != joined.ID || relayed.Event != models.SignalTypeOffer || string(relayed.Data) != `{"sdp":"v=0"}` {
		t.Errorf("relayed = %+v", relayed)
	}

	// Dropping bob's connection is a departure.
	bob.Close()
	var left models.PeerLeft
	if err := json.Unmarshal(next(t, alice, models.EventPeerLeft).Data, &left); err != nil {
		t.Fatal(err)
	}
	if left.ID != joined.ID {
		t.Errorf("peer-left = %+v, want %s", left, joined.ID)
	}
}

func TestSignalingCorrelatesRequests(t *testing.T) {
	srv := newTestServer(t, nil, 50)
	conn := srv.dial(t)

	env, _ := models.NewEnvelope(models.EventGetRouterRtpCapabilities, nil)
	env.ID = "req-1"
	if err := conn.WriteJSON(env); err != nil {
		t.Fatal(err)
	}
	resp := next(t, conn, models.EventResponse)
	if resp.ID != "req-1" || resp.Error != "media engine not configured" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSignalingRejectsMalformedFrames(t *testing.T) {
	srv := newTestServer(t, nil, 50)
	conn := srv.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var info models.ErrorInfo
	if err := json.Unmarshal(next(t, conn, models.EventError).Data, &info); err != nil {
		t.Fatal(err)
	}
	if info.Message != "invalid message" {
		t.Errorf("error = %+v", info)
	}

	// The connection survives a bad frame.
	send(t, conn, models.EventJoin, models.JoinRequest{RoomID: "still-here", Nickname: "n"})
	next(t, conn, models.EventPeerList)
}

func TestSignalingRateLimit(t *testing.T) {
	srv := newTestServer(t, nil, 1)
	conn := srv.dial(t)

	// The burst equals the per-second rate, so the second frame trips it.
	send(t, conn, models.EventLeave, nil)
	send(t, conn, models.EventLeave, nil)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("read error = %v, want policy violation close", err)
		}
		return
	}
}
