package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
)

const (
	readTimeout = 100 * time.Millisecond
	// MaxFrameLen bounds a frame still missing its terminator; longer input is
	// dropped.
	MaxFrameLen = 1024
	// QuietTimeout is how long a partial frame survives without a new byte.
	QuietTimeout = 200 * time.Millisecond
)

type Port interface {
	io.ReadWriteCloser
}

// FrameHandler answers one frame. A nil reply writes nothing back.
type FrameHandler func(frame []byte) []byte

// Link owns the port. A reader goroutine assembles frames as bytes arrive;
// they are answered only inside Poll, from the loop's goroutine.
type Link struct {
	port   Port
	onByte func()
	now    func() time.Time

	mu       sync.Mutex
	buf      []byte
	lastByte time.Time
	frames   [][]byte
	closed   bool

	done chan struct{}
}

// Open opens the configured device with tarm/serial.
func Open(cfg config.Serial, onByte func()) (*Link, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	log.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("Serial link open")
	return NewLink(port, onByte), nil
}

// NewLink starts reading from port. onByte, when set, runs on the reader
// goroutine after every read that returned data.
func NewLink(port Port, onByte func()) *Link {
	return newLink(port, onByte, time.Now)
}

func newLink(port Port, onByte func(), now func() time.Time) *Link {
	l := &Link{
		port:   port,
		onByte: onByte,
		now:    now,
		done:   make(chan struct{}),
	}
	go l.read()
	return l
}

func (l *Link) read() {
	defer close(l.done)
	chunk := make([]byte, 256)
	for {
		n, err := l.port.Read(chunk)
		if n > 0 {
			l.ingest(chunk[:n])
			if l.onByte != nil {
				l.onByte()
			}
		}
		if l.isClosed() {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Msg("Serial read failed, link stopped")
			return
		}
	}
}

func (l *Link) ingest(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expirePartial()
	l.lastByte = l.now()
	l.buf = append(l.buf, data...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		frame := bytes.TrimSpace(l.buf[:i])
		if len(frame) > 0 {
			l.frames = append(l.frames, append([]byte(nil), frame...))
		}
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > MaxFrameLen {
		log.Warn().Int("bytes", len(l.buf)).Msg("Dropping oversized serial frame")
		l.buf = nil
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Pending reports whether a complete frame is waiting, or a partial one is
// still within QuietTimeout of its last byte.
func (l *Link) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expirePartial()
	return len(l.buf) > 0 || len(l.frames) > 0
}

// expirePartial drops an unterminated frame once the line has been quiet for
// QuietTimeout. Callers hold mu.
func (l *Link) expirePartial() {
	if len(l.buf) == 0 || l.now().Sub(l.lastByte) < QuietTimeout {
		return
	}
	log.Debug().Int("bytes", len(l.buf)).Msg("Dropping stale partial serial frame")
	l.buf = nil
}

func (l *Link) takeFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expirePartial()
	frames := l.frames
	l.frames = nil
	return frames
}

// Poll runs the receive window: iterations rounds of answering whatever
// frames have arrived, each followed by interval. It returns the number of
// frames handled.
func (l *Link) Poll(ctx context.Context, iterations int, interval time.Duration, handler FrameHandler) int {
	handled := 0
	for i := 0; i < iterations; i++ {
		for _, frame := range l.takeFrames() {
			handled++
			reply := handler(frame)
			if reply == nil {
				continue
			}
			if _, err := l.port.Write(append(reply, '\n')); err != nil {
				log.Error().Err(err).Msg("Serial write failed")
			}
		}

		if interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return handled
		case <-time.After(interval):
		}
	}
	return handled
}

func (l *Link) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.port.Close()
}
