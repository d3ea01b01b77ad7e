package peppi

import (
	"strings"
	"testing"
	"time"
)

func TestFeedReaderConnectAndData(t *testing.T) {
	fr := NewFeedReader()
	if fr.GetStatus() != Disconnected {
		t.Fatalf("GetStatus() = %v, want Disconnected", fr.GetStatus())
	}

	src := strings.NewReader("hello")
	events, err := fr.Connect(src)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var seen []ConnectionEventType
	var data []byte
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev.Type)
			if ev.Type == ConnectionEventData {
				data = append(data, ev.Payload.([]byte)...)
			}
			if ev.Type == ConnectionEventStatusChange && ev.Payload.(ConnectionStatus) == Disconnected {
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for FeedReader to report EOF")
		}
	}

	if string(data) != "hello" {
		t.Errorf("data = %q, want %q", data, "hello")
	}
	if len(seen) == 0 || seen[0] != ConnectionEventStatusChange {
		t.Fatalf("first event = %v, want ConnectionEventStatusChange", seen)
	}
	foundConnect := false
	for _, typ := range seen {
		if typ == ConnectionEventConnect {
			foundConnect = true
		}
	}
	if !foundConnect {
		t.Error("never saw a ConnectionEventConnect event")
	}
	if fr.GetStatus() != Disconnected {
		t.Errorf("GetStatus() = %v, want Disconnected after EOF", fr.GetStatus())
	}
}

func TestFeedReaderDisconnectWithoutConnect(t *testing.T) {
	fr := NewFeedReader()
	fr.Disconnect()
	if fr.GetStatus() != Disconnected {
		t.Errorf("GetStatus() = %v, want Disconnected", fr.GetStatus())
	}
}
