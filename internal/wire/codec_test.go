package wire

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/canlink/internal/canbus"
)

func mustNext(t *testing.T, d *Decoder) canbus.Frame {
	t.Helper()
	f, ok, err := d.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !ok {
		t.Fatalf("expected a decoded frame, got suspension")
	}
	return f
}

func frameEqual(a, b canbus.Frame) bool {
	return a.ID == b.ID &&
		a.Extended == b.Extended &&
		a.Remote == b.Remote &&
		a.Error == b.Error &&
		bytes.Equal(a.Data, b.Data)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []canbus.Frame{
		{ID: 0x0},
		{ID: 0x7FF, Data: []byte{0xFF}},
		{ID: 0x123, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{ID: 0x1FFFFFFF, Extended: true, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{ID: 0x100, Remote: true, Data: []byte{0, 0, 0}}, // rtr keeps requested length
		{ID: 0x20, Error: true},
		{ID: 0x800, Extended: true},
	}
	var d Decoder
	for _, in := range frames {
		d.Feed(Encode(in))
		out := mustNext(t, &d)
		if !frameEqual(in, out) {
			t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
		}
		if d.Buffered() != 0 {
			t.Fatalf("decoder retained %d bytes", d.Buffered())
		}
	}
}

func TestEncodeExampleVector(t *testing.T) {
	f := canbus.Frame{ID: 0x123, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	got := Encode(f)
	want := []byte{0xAA, 0x00, 0x00, 0x00, 0x01, 0x23, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoding mismatch:\n got=% X\nwant=% X", got, want)
	}

	var d Decoder
	d.Feed(got)
	out := mustNext(t, &d)
	if !frameEqual(f, out) {
		t.Fatalf("decode mismatch: %+v", out)
	}
}

func TestDecoderResynchronizesAfterNoise(t *testing.T) {
	f := canbus.Frame{ID: 0x2A, Data: []byte{9, 8, 7}}
	noise := []byte{0x00, 0x13, 0x37, 0x42, 0x99}

	var d Decoder
	d.Feed(append(noise, Encode(f)...))
	out := mustNext(t, &d)
	if !frameEqual(f, out) {
		t.Fatalf("frame lost after noise: %+v", out)
	}
}

func TestDecoderChunkingInvariance(t *testing.T) {
	frames := []canbus.Frame{
		{ID: 1, Data: []byte{0xAA, 0xAA}}, // payload bytes that look like markers
		{ID: 2, Extended: true, Remote: true, Data: []byte{1, 2, 3, 4, 5, 6, 7}},
		{ID: 3, Error: true},
		{ID: 0x1234567, Extended: true, Data: []byte{0xFF}},
	}
	var stream []byte
	for _, f := range frames {
		stream = AppendEncode(stream, f)
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		var d Decoder
		var got []canbus.Frame
		rest := stream
		for len(rest) > 0 {
			n := 1
			if trial > 0 {
				n = 1 + rng.Intn(len(rest))
			}
			d.Feed(rest[:n])
			rest = rest[n:]
			for {
				f, ok, err := d.Next()
				if err != nil {
					t.Fatalf("trial %d: unexpected decode error: %v", trial, err)
				}
				if !ok {
					break
				}
				got = append(got, f)
			}
		}
		if len(got) != len(frames) {
			t.Fatalf("trial %d: decoded %d frames, want %d", trial, len(got), len(frames))
		}
		for i := range frames {
			if !frameEqual(frames[i], got[i]) {
				t.Fatalf("trial %d: frame %d mismatch: %+v", trial, i, got[i])
			}
		}
	}
}

func TestDecoderRecoversFromOversizedLength(t *testing.T) {
	good := canbus.Frame{ID: 0x55, Data: []byte{1}}

	bad := Encode(canbus.Frame{ID: 0x44, Data: make([]byte, 8)})
	bad[6] = 12 // length byte beyond the classic CAN ceiling

	var d Decoder
	d.Feed(bad)
	d.Feed(Encode(good))

	_, ok, err := d.Next()
	if ok || !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got ok=%t err=%v", ok, err)
	}

	// Decoding resumes on the next valid marker in the remaining stream.
	for {
		f, ok, err := d.Next()
		if err != nil {
			continue
		}
		if !ok {
			t.Fatalf("good frame never recovered")
		}
		if frameEqual(good, f) {
			return
		}
	}
}

func TestDecoderRejectsReservedFlags(t *testing.T) {
	buf := Encode(canbus.Frame{ID: 1})
	buf[1] |= 0x80

	var d Decoder
	d.Feed(buf)
	_, ok, err := d.Next()
	if ok || !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got ok=%t err=%v", ok, err)
	}
}

func TestDecoderRejectsStandardIDOverflow(t *testing.T) {
	// A standard-addressing header whose id needs 29 bits violates the
	// frame model and must not be surfaced as a frame.
	buf := Encode(canbus.Frame{ID: 0x1000, Extended: true})
	buf[1] &^= 0x01

	var d Decoder
	d.Feed(buf)
	_, ok, err := d.Next()
	if ok || !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got ok=%t err=%v", ok, err)
	}
}

func TestDecoderSuspendsOnPartialHeader(t *testing.T) {
	buf := Encode(canbus.Frame{ID: 0x77, Data: []byte{1, 2}})

	var d Decoder
	d.Feed(buf[:5])
	if _, ok, err := d.Next(); ok || err != nil {
		t.Fatalf("partial header must suspend, got ok=%t err=%v", ok, err)
	}
	d.Feed(buf[5:])
	f := mustNext(t, &d)
	if f.ID != 0x77 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}
