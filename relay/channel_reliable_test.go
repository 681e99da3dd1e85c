package relay

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func TestReliableChannelSendFrames(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := NewReliableChannel(server)
	go func() {
		_ = ch.Send([]byte("hello"))
	}()

	header := make([]byte, reliableHeaderLen)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	length := binary.LittleEndian.Uint32(header)
	if length != 5 {
		t.Fatalf("frame length = %d, want 5", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(client, body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestReliableChannelSendEmptyRejected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ch := NewReliableChannel(server)
	if err := ch.Send(nil); err != ErrEmptyPayload {
		t.Fatalf("Send(nil) = %v, want ErrEmptyPayload", err)
	}
}

func TestReliableChannelSendTruncatesOversize(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ch := NewReliableChannel(server)
	oversized := make([]byte, maxReliablePayload+1)
	for i := range oversized {
		oversized[i] = 'x'
	}
	go func() {
		_ = ch.Send(oversized)
	}()

	header := make([]byte, reliableHeaderLen)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	length := binary.LittleEndian.Uint32(header)
	if length != maxReliablePayload {
		t.Fatalf("truncated frame length = %d, want %d", length, maxReliablePayload)
	}
}

func TestReliableChannelReaderDispatchesMessages(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	received := make(chan []byte, 1)
	closed := make(chan struct{})
	ch := NewReliableChannel(server)
	ch.Start(func(data []byte) {
		received <- data
	}, func() {
		close(closed)
	})

	frame := []byte("ping-body")
	header := make([]byte, reliableHeaderLen)
	binary.LittleEndian.PutUint32(header, uint32(len(frame)))
	if _, err := client.Write(header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if _, err := client.Write(frame); err != nil {
		t.Fatalf("writing body: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(frame) {
			t.Fatalf("received %q, want %q", got, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	client.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close callback")
	}
}

func TestReliableChannelStopClosesAndCallsBack(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	closed := make(chan struct{})
	ch := NewReliableChannel(server)
	ch.Start(func([]byte) {}, func() {
		close(closed)
	})

	ch.Stop()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close callback after Stop")
	}
}
