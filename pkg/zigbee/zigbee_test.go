package zigbee

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/transport"
)

func decodeAll(t *testing.T, stream []byte) []ashFrame {
	t.Helper()
	var dec frameDecoder
	var frames []ashFrame
	for _, b := range stream {
		f, done, err := dec.feed(b)
		if done {
			require.NoError(t, err)
			frames = append(frames, f)
		}
	}
	return frames
}

func TestFrame_RoundTrip(t *testing.T) {
	// payload bytes that all need escaping
	payload := []byte{0x01, ashFlagByte, ashEscapeByte, ashXON, ashXOFF, ashSubstitute, ashCancelByte, 0xFF}
	encoded := encodeFrame(0x25, payload)

	for _, b := range encoded[:len(encoded)-1] {
		assert.NotEqual(t, byte(ashFlagByte), b)
	}

	frames := decodeAll(t, encoded)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0x25), frames[0].control)
	assert.Equal(t, payload, frames[0].data)
	assert.Equal(t, frameData, frames[0].kind())
	assert.Equal(t, uint8(2), frames[0].frameNum())
}

func TestFrame_Kinds(t *testing.T) {
	cases := map[byte]frameKind{
		ashFrameRST:    frameRST,
		ashFrameRSTACK: frameRSTACK,
		ashFrameERROR:  frameError,
		0x81:           frameACK,
		0xA3:           frameNAK,
		0x70:           frameData,
		0xE0:           frameUnknown,
	}
	for control, want := range cases {
		assert.Equal(t, want, ashFrame{control: control}.kind(), "control %#x", control)
	}
}

func TestFrame_RSTStartsWithCancel(t *testing.T) {
	rst := encodeRST()
	assert.Equal(t, byte(ashCancelByte), rst[0])
	frames := decodeAll(t, rst)
	require.Len(t, frames, 1)
	assert.Equal(t, frameRST, frames[0].kind())
}

func TestDecoder_Errors(t *testing.T) {
	var dec frameDecoder

	bad := encodeFrame(ashFrameRSTACK, []byte{0x02})
	bad[1] ^= 0x01
	var got error
	for _, b := range bad {
		if _, done, err := dec.feed(b); done {
			got = err
		}
	}
	assert.ErrorIs(t, got, errFrameCRC)

	_, _, _ = dec.feed(0x01)
	_, done, err := dec.feed(ashFlagByte)
	assert.True(t, done)
	assert.ErrorIs(t, err, errFrameShort)

	// cancel discards a partial frame
	_, _, _ = dec.feed(0x42)
	_, _, _ = dec.feed(ashCancelByte)
	var last ashFrame
	for _, b := range encodeFrame(ashFrameRSTACK, []byte{0x02}) {
		f, done, err := dec.feed(b)
		if done {
			require.NoError(t, err)
			last = f
		}
	}
	assert.Equal(t, frameRSTACK, last.kind())
	assert.Equal(t, []byte{0x02}, last.data)
}

func TestCRC_KnownVector(t *testing.T) {
	// CRC-CCITT (0xFFFF) of "123456789"
	assert.Equal(t, uint16(0x29B1), crcCCITT([]byte("123456789")))
}

func TestParseOptions(t *testing.T) {
	o := ParseOptions(nil)
	assert.Equal(t, DefaultOptions(), o)

	o = ParseOptions(map[string]any{
		"baud":                 float64(57600),
		"rtscts":               false,
		"handshake_timeout_ms": 250,
		"stale_after_ms":       int64(1000),
	})
	assert.Equal(t, 57600, o.Baud)
	assert.False(t, o.RTSCTS)
	assert.Equal(t, 250*time.Millisecond, o.HandshakeTimeout)
	assert.Equal(t, time.Second, o.StaleAfter)
}

// fakeNCP answers RST with RSTACK on the far end of a pipe.
type fakeNCP struct {
	conn   net.Conn
	mute   atomic.Bool
	rsts   atomic.Int32
	acks   atomic.Int32
	closed chan struct{}
}

func newFakeNCP(conn net.Conn) *fakeNCP {
	n := &fakeNCP{conn: conn, closed: make(chan struct{})}
	go n.serve()
	return n
}

func (n *fakeNCP) serve() {
	defer close(n.closed)
	var dec frameDecoder
	buf := make([]byte, 64)
	for {
		c, err := n.conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:c] {
			f, done, err := dec.feed(b)
			if !done || err != nil {
				continue
			}
			switch f.kind() {
			case frameRST:
				n.rsts.Add(1)
				if !n.mute.Load() {
					go func() { _, _ = n.conn.Write(encodeFrame(ashFrameRSTACK, []byte{0x02, 0x0B})) }()
				}
			case frameACK:
				n.acks.Add(1)
			}
		}
	}
}

func (n *fakeNCP) send(frame []byte) {
	_, _ = n.conn.Write(frame)
}

type rig struct {
	transport *Transport
	clock     *clock.Manual
	mu        sync.Mutex
	ncps      []*fakeNCP
	openErr   error
}

func newRig(t *testing.T, extra ...Option) *rig {
	r := &rig{clock: clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))}
	opts := append([]Option{
		WithOpener(r.open),
		WithClock(r.clock),
		WithLogger(zerolog.Nop()),
	}, extra...)
	r.transport = New(opts...)
	link := DefaultOptions()
	link.HandshakeTimeout = 200 * time.Millisecond
	require.NoError(t, r.transport.Add("zb0", "/dev/fake0", link))
	t.Cleanup(func() { _ = r.transport.Close() })
	return r
}

func (r *rig) open(string, Options) (Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	local, remote := net.Pipe()
	r.ncps = append(r.ncps, newFakeNCP(remote))
	return local, nil
}

func (r *rig) ncp() *fakeNCP {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ncps[len(r.ncps)-1]
}

func TestTransport_ReconnectAndProbe(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	assert.Equal(t, transport.Failure, r.transport.Probe(ctx, "zb0"), "no link yet")
	assert.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))
	assert.Equal(t, int32(1), r.ncp().rsts.Load())

	// RSTACK just arrived, so the probe needs no round trip
	assert.Equal(t, transport.Success, r.transport.Probe(ctx, "zb0"))
	assert.Equal(t, int32(1), r.ncp().rsts.Load())

	r.clock.Advance(time.Minute)
	assert.Equal(t, transport.Success, r.transport.Probe(ctx, "zb0"))
	assert.Equal(t, int32(2), r.ncp().rsts.Load())

	assert.Equal(t, transport.Success, r.transport.Verify(ctx, "zb0", transport.StageBasic))
	assert.Equal(t, transport.Success, r.transport.Verify(ctx, "zb0", transport.StageValues))
	assert.Equal(t, int32(3), r.ncp().rsts.Load())
}

func TestTransport_HandshakeTimeout(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))

	r.ncp().mute.Store(true)
	r.clock.Advance(time.Minute)
	assert.Equal(t, transport.Timeout, r.transport.Probe(ctx, "zb0"))
}

func TestTransport_DataFramesAreAcked(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))

	r.clock.Advance(time.Minute)
	r.ncp().send(encodeFrame(0x00, []byte{0x01, 0x02}))
	assert.Eventually(t, func() bool { return r.ncp().acks.Load() == 1 }, time.Second, time.Millisecond)

	// the DATA frame refreshed the link
	assert.Equal(t, transport.Success, r.transport.Probe(ctx, "zb0"))
	assert.Equal(t, int32(1), r.ncp().rsts.Load())
}

func TestTransport_FramesReportLiveness(t *testing.T) {
	var (
		tracker *health.Tracker
		reports atomic.Int32
		r       *rig
	)
	r = newRig(t, WithLiveness(func(id string) {
		reports.Add(1)
		tracker.RecordLiveness(id, r.clock.Now())
	}, 10*time.Second))
	tracker = health.NewTracker(health.DefaultConfig(), health.WithClock(r.clock), health.WithLogger(zerolog.Nop()))
	tracker.Register("zb0")
	ctx := context.Background()

	// the RSTACK of the handshake is the first sign of life
	require.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))
	require.Eventually(t, func() bool { return reports.Load() == 1 }, time.Second, time.Millisecond)
	h, ok := tracker.Health("zb0")
	require.True(t, ok)
	first := h.LastLiveness
	assert.Equal(t, r.clock.Now(), first)

	// frames inside the interval are not reported again
	r.ncp().send(encodeFrame(0x00, []byte{0x01}))
	require.Eventually(t, func() bool { return r.ncp().acks.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), reports.Load())

	r.clock.Advance(15 * time.Second)
	r.ncp().send(encodeFrame(0x01, []byte{0x02}))
	require.Eventually(t, func() bool { return reports.Load() == 2 }, time.Second, time.Millisecond)
	h, _ = tracker.Health("zb0")
	assert.True(t, h.LastLiveness.After(first))
}

func TestTransport_ErrorFrameBreaksLink(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))

	r.ncp().send(encodeFrame(ashFrameERROR, []byte{0x02, 0x51}))
	assert.Eventually(t, func() bool {
		return r.transport.Probe(ctx, "zb0") == transport.Failure
	}, time.Second, time.Millisecond)
	assert.Equal(t, transport.Failure, r.transport.Verify(ctx, "zb0", transport.StageDevices))

	// reconnect replaces the broken link
	assert.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))
	assert.Equal(t, transport.Success, r.transport.Probe(ctx, "zb0"))
}

func TestTransport_PortClosedRemotely(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	require.Equal(t, transport.Success, r.transport.Reconnect(ctx, "zb0"))

	_ = r.ncp().conn.Close()
	assert.Eventually(t, func() bool {
		return r.transport.Probe(ctx, "zb0") == transport.Failure
	}, time.Second, time.Millisecond)
}

func TestTransport_OpenFailure(t *testing.T) {
	r := newRig(t)
	r.openErr = errors.New("no such device")
	assert.Equal(t, transport.Failure, r.transport.Reconnect(context.Background(), "zb0"))
	assert.Equal(t, transport.Failure, r.transport.Reconnect(context.Background(), "missing"))
}

func TestTransport_Add(t *testing.T) {
	tr := New(WithLogger(zerolog.Nop()))
	require.NoError(t, tr.Add("b", "/dev/b", DefaultOptions()))
	require.NoError(t, tr.Add("a", "/dev/a", DefaultOptions()))
	assert.Error(t, tr.Add("a", "/dev/a", DefaultOptions()))
	assert.Equal(t, []string{"a", "b"}, tr.IDs())
}

func TestTransport_CloseEndsLinks(t *testing.T) {
	r := newRig(t)
	require.Equal(t, transport.Success, r.transport.Reconnect(context.Background(), "zb0"))
	ncp := r.ncp()

	require.NoError(t, r.transport.Close())
	select {
	case <-ncp.closed:
	case <-time.After(time.Second):
		t.Fatal("remote end still open")
	}
	assert.Equal(t, transport.Failure, r.transport.Probe(context.Background(), "zb0"))
}
