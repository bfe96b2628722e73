package websocket

import (
	"testing"
	"time"

	"github.com/openagentlabs/signal-manager/internal/protocol"
)

func TestZZProbe(t *testing.T) {
	h := newHarness(t)
	c1 := dial(t, h)
	connect(t, h, c1, "c1", "t1")

	send(t, c1, protocol.NewMessage(protocol.MsgSignalOffer, &protocol.SignalPayload{
		TargetClientID: "c9", SignalData: "sdp",
	}))

	c1.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := c1.ReadMessage()
	t.Logf("first read err: %v", err)

	send(t, c1, protocol.NewMessage(protocol.MsgHeartbeat, &protocol.HeartbeatPayload{Timestamp: 1}))
	c1.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := c1.ReadMessage()
	t.Logf("second read err: %v data: %v", err, data)
	if err == nil {
		msg, derr := protocol.Decode(data)
		t.Logf("decode err: %v msg: %+v", derr, msg)
	}
}
