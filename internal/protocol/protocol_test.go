package protocol

import (
	"bytes"
	"strings"
	"testing"

	"benchd/pkg/types"
)

func TestWriteAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	ev := types.Event{Message: "hello", Status: types.StatusIdle}
	if err := Write(&buf, ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := buf.String()
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("frame not newline-terminated: %q", s)
	}
	if strings.Count(s, "\n") != 1 {
		t.Fatalf("expected exactly one newline: %q", s)
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := types.Event{Message: "Starting test for SN: SN1", Status: types.StatusRunning}
	if err := Write(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	var d Decoder
	d.Feed(buf.Bytes())
	var got types.Event
	if !d.Next(&got) {
		t.Fatal("expected a decoded event")
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if d.Next(&got) {
		t.Fatal("unexpected second event")
	}
}

func TestDecoderBackToBackWithoutNewlines(t *testing.T) {
	// Two frames written back-to-back with no separator at all.
	var d Decoder
	d.Feed([]byte(`{"message":"a","status":"running"}{"message":"b","status":"completed"}`))

	var events []types.Event
	for {
		var ev types.Event
		if !d.Next(&ev) {
			break
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "a" || events[1].Message != "b" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if d.Dropped() != 0 {
		t.Fatalf("no bytes should be dropped, got %d", d.Dropped())
	}
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	frame := []byte(`{"command":"status"}` + "\n")
	var d Decoder
	var cmd types.Command

	d.Feed(frame[:7])
	if d.Next(&cmd) {
		t.Fatal("partial frame must not decode")
	}
	d.Feed(frame[7:])
	if !d.Next(&cmd) {
		t.Fatal("expected decode after remainder arrived")
	}
	if cmd.Command != types.CommandStatus {
		t.Fatalf("got command %q", cmd.Command)
	}
}

func TestDecoderResyncsPastGarbage(t *testing.T) {
	var d Decoder
	d.Feed([]byte("##garbage##" + `{"command":"stop"}` + "\n"))

	var cmd types.Command
	if !d.Next(&cmd) {
		t.Fatal("expected decode after resync")
	}
	if cmd.Command != types.CommandStop {
		t.Fatalf("got command %q", cmd.Command)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped bytes to be counted")
	}
}

func TestDecoderMalformedObjectThenValid(t *testing.T) {
	var d Decoder
	d.Feed([]byte(`{not valid}` + `{"command":"status"}`))

	var cmd types.Command
	if !d.Next(&cmd) {
		t.Fatal("expected decode of trailing valid frame")
	}
	if cmd.Command != types.CommandStatus {
		t.Fatalf("got command %q", cmd.Command)
	}
}

func TestDecoderTruncatesOversizedGarbage(t *testing.T) {
	var d Decoder
	d.Feed(bytes.Repeat([]byte("x"), 4*maxUnparsed))

	var cmd types.Command
	if d.Next(&cmd) {
		t.Fatal("garbage must not decode")
	}
	if d.Buffered() > keepTail {
		t.Fatalf("buffer not bounded: %d bytes", d.Buffered())
	}

	// The channel must still work after truncation.
	d.Feed([]byte(`{"command":"status"}`))
	if !d.Next(&cmd) {
		t.Fatal("expected decode after truncation")
	}
}

func TestDecoderWhitespaceBetweenFrames(t *testing.T) {
	var d Decoder
	d.Feed([]byte("  \r\n" + `{"message":"a","status":"idle"}` + "  \n\t" + `{"message":"b","status":"idle"}` + "\n"))

	var ev types.Event
	for i := 0; i < 2; i++ {
		if !d.Next(&ev) {
			t.Fatalf("missing frame %d", i)
		}
	}
	if d.Dropped() != 0 {
		t.Fatalf("whitespace counted as dropped: %d", d.Dropped())
	}
}

func TestDecoderNonObjectValueIsSwallowed(t *testing.T) {
	var d Decoder
	d.Feed([]byte(`42` + "\n" + `{"command":"status"}`))

	var cmd types.Command
	if !d.Next(&cmd) {
		t.Fatal("expected decode of object after scalar")
	}
	if cmd.Command != types.CommandStatus {
		t.Fatalf("got command %q", cmd.Command)
	}
}
