package link

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/waterline-io/waterline-core/internal/wire"
)

// pipePair returns two connected typed channels backed by net.Pipe.
func pipePair() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}

func TestConn_RoundTrip(t *testing.T) {
	agent, bridge := pipePair()
	defer agent.Close()
	defer bridge.Close()

	sent := &wire.Telemetry{
		DeviceID:   "tank-01",
		Timestamp:  time.Now().UTC(),
		WaterLevel: 73.4,
	}

	done := make(chan error, 1)
	go func() {
		done <- agent.WriteMessage(sent)
	}()

	msg, err := bridge.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	got, ok := msg.(*wire.Telemetry)
	if !ok {
		t.Fatalf("ReadMessage() returned %T, want *wire.Telemetry", msg)
	}
	if got.WaterLevel != sent.WaterLevel || got.DeviceID != sent.DeviceID {
		t.Errorf("round trip = %+v, want %+v", got, sent)
	}
}

func TestConn_MultipleFramesInOrder(t *testing.T) {
	agent, bridge := pipePair()
	defer agent.Close()
	defer bridge.Close()

	go func() {
		for i := 1; i <= 3; i++ {
			_ = agent.WriteMessage(&wire.ThresholdSet{
				MinLevel: 10,
				MaxLevel: 50,
				Version:  uint64(i),
			})
		}
	}()

	for i := 1; i <= 3; i++ {
		msg, err := bridge.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() #%d error = %v", i, err)
		}
		ts, ok := msg.(*wire.ThresholdSet)
		if !ok {
			t.Fatalf("ReadMessage() #%d returned %T", i, msg)
		}
		if ts.Version != uint64(i) {
			t.Errorf("frame %d version = %d, want %d (order preserved)", i, ts.Version, i)
		}
	}
}

func TestConn_ReadAfterClose(t *testing.T) {
	agent, bridge := pipePair()
	defer bridge.Close()

	agent.Close()

	_, err := bridge.ReadMessage()
	if !errors.Is(err, ErrClosed) {
		t.Errorf("ReadMessage() after peer close error = %v, want ErrClosed", err)
	}
}

func TestConn_MalformedFrameIsRecoverable(t *testing.T) {
	a, b := net.Pipe()
	bridge := NewConn(b)
	defer a.Close()
	defer bridge.Close()

	go func() {
		a.Write([]byte("this is not json\n"))
		frame, _ := wire.Encode(&wire.PumpCommand{Command: wire.CommandStart, CorrelationID: "req-1"})
		a.Write(append(frame, '\n'))
	}()

	_, err := bridge.ReadMessage()
	if !errors.Is(err, wire.ErrMalformedMessage) {
		t.Fatalf("ReadMessage() error = %v, want ErrMalformedMessage", err)
	}

	// The stream must still deliver the next frame.
	msg, err := bridge.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() after malformed frame error = %v", err)
	}
	if _, ok := msg.(*wire.PumpCommand); !ok {
		t.Errorf("ReadMessage() returned %T, want *wire.PumpCommand", msg)
	}
}

func TestListener_AcceptAndExchange(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		accepted <- acceptResult{conn, acceptErr}
	}()

	bridge, err := Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer bridge.Close()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept() error = %v", res.err)
	}
	defer res.conn.Close()

	if err := bridge.WriteMessage(&wire.SnapshotRequest{}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	msg, err := res.conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if _, ok := msg.(*wire.SnapshotRequest); !ok {
		t.Errorf("ReadMessage() returned %T, want *wire.SnapshotRequest", msg)
	}
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial("127.0.0.1:1", 100*time.Millisecond)
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectFailed", err)
	}
}
