package zigbee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/urmzd/homelink/pkg/clock"
	"github.com/urmzd/homelink/pkg/transport"
)

var (
	errLinkClosed = errors.New("ash link closed")
	errNCPError   = errors.New("ncp reported ERROR frame")
)

// link is one ASH session over an open port. A read loop tracks frame
// activity and answers DATA frames with ACKs; handshakes are RST/RSTACK
// round trips.
type link struct {
	id     string
	port   Port
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger

	// handshakeMu serializes RST round trips on the port.
	handshakeMu sync.Mutex

	liveness      func(id string)
	livenessEvery time.Duration

	mu           sync.Mutex
	lastFrame    time.Time
	lastLiveness time.Time
	err          error
	recvSeq      uint8

	rstack    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(id string, port Port, opts Options, t *Transport) *link {
	l := &link{
		id:            id,
		port:          port,
		opts:          opts,
		clock:         t.clock,
		logger:        t.logger.With().Str("interface", id).Logger(),
		liveness:      t.liveness,
		livenessEvery: t.livenessEvery,
		rstack:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *link) readLoop() {
	var dec frameDecoder
	buf := make([]byte, 64)
	for {
		n, err := l.port.Read(buf)
		for _, b := range buf[:n] {
			f, done, ferr := dec.feed(b)
			if !done {
				continue
			}
			if ferr != nil {
				l.logger.Debug().Err(ferr).Msg("Discarding ASH frame")
				continue
			}
			l.handleFrame(f)
		}
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Warn().Err(err).Msg("ASH read failed")
				l.fail(err)
			}
			return
		}
	}
}

func (l *link) handleFrame(f ashFrame) {
	kind := f.kind()
	l.logger.Debug().Stringer("frame", kind).Msg("ASH RX")

	now := l.clock.Now()
	l.mu.Lock()
	l.lastFrame = now
	report := l.liveness != nil && (l.lastLiveness.IsZero() || now.Sub(l.lastLiveness) >= l.livenessEvery)
	if report {
		l.lastLiveness = now
	}
	l.mu.Unlock()
	if report {
		l.liveness(l.id)
	}

	switch kind {
	case frameRSTACK:
		l.mu.Lock()
		l.recvSeq = 0
		l.err = nil
		l.mu.Unlock()
		select {
		case l.rstack <- struct{}{}:
		default:
		}
	case frameData:
		l.mu.Lock()
		if f.frameNum() == l.recvSeq {
			l.recvSeq = (l.recvSeq + 1) & 0x07
		}
		ack := l.recvSeq
		l.mu.Unlock()
		if _, err := l.port.Write(encodeACK(ack)); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to send ASH ACK")
		}
	case frameError:
		l.logger.Error().Hex("frame", f.data).Msg("ASH ERROR frame received")
		l.mu.Lock()
		l.err = errNCPError
		l.mu.Unlock()
	}
}

func (l *link) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

// failure returns the error that broke the link, if any.
func (l *link) failure() error {
	select {
	case <-l.done:
		return errLinkClosed
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// fresh reports whether a frame arrived within StaleAfter.
func (l *link) fresh() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastFrame.IsZero() || l.err != nil {
		return false
	}
	return l.clock.Now().Sub(l.lastFrame) < l.opts.StaleAfter
}

// handshake sends RST and waits for RSTACK.
func (l *link) handshake(ctx context.Context) transport.Outcome {
	l.handshakeMu.Lock()
	defer l.handshakeMu.Unlock()

	if err := l.failure(); errors.Is(err, errLinkClosed) {
		return transport.Failure
	}

	select {
	case <-l.rstack:
	default:
	}

	if _, err := l.port.Write(encodeRST()); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to send ASH RST")
		l.fail(fmt.Errorf("write RST: %w", err))
		return transport.Failure
	}

	timer := time.NewTimer(l.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-l.rstack:
		return transport.Success
	case <-timer.C:
		l.logger.Warn().Dur("timeout", l.opts.HandshakeTimeout).Msg("Timed out waiting for RSTACK")
		return transport.Timeout
	case <-ctx.Done():
		return transport.Timeout
	case <-l.done:
		return transport.Failure
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		if err := l.port.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("Closing serial port")
		}
	})
}
