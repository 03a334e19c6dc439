// Package transmitter provides the façade the packager consumes to emit
// objects onto the downstream FLUTE/ALC multicast channel. Per the
// purpose & scope notes, the core never implements a concrete FLUTE
// stack; it consumes a Transmitter interface that accepts file
// descriptions and reports per-TOI completion via a callback.
//
// UDPTransmitter is a reference implementation that actually writes one
// datagram per submitted object over UDP (an 8-byte TOI header plus the
// content; the FDT fields are not sent), rate limited with
// golang.org/x/time/rate. It exists so the packager and its
// tests can exercise real I/O without depending on a production FLUTE
// library the example pack does not carry.
package transmitter

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/5g-mag/mbs-traffic-function/pkg/log"
)

// TOI is a Transport Object Identifier assigned by the transmitter to a
// submitted FileDescription.
type TOI uint64

// FileDescription is the FDT entry for one object: its content, and the
// metadata carried alongside it in the FDT (content-location, type,
// expiry, ETag). A FileDescription is shared between an objectstore
// Metadata's opaque FileDescription field and the transmitter's send
// queue, so it can be reused across refetches of the same object without
// losing its TOI history.
type FileDescription struct {
	mu sync.Mutex

	ContentLocation string
	ContentType     string
	Expires         time.Time
	ETag            string
	Content         []byte

	toi     TOI
	hasTOI  bool
}

// SetTOI records the TOI this description was last submitted under.
func (f *FileDescription) SetTOI(toi TOI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toi, f.hasTOI = toi, true
}

// TOI returns the last TOI this description was submitted under.
func (f *FileDescription) TOI() (TOI, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toi, f.hasTOI
}

// CompletionFunc is invoked once per completed TOI.
type CompletionFunc func(toi TOI)

// Transmitter is the façade the packager submits file descriptions to.
type Transmitter interface {
	// Send submits fd for transmission and returns the TOI it was
	// assigned.
	Send(fd *FileDescription) (TOI, error)
	// OnCompletion registers the callback invoked when a TOI finishes
	// transmitting. Only one callback is supported, matching the
	// packager's single-consumer usage.
	OnCompletion(fn CompletionFunc)
	// RunOne performs a single step of the transmitter's I/O service,
	// returning once it has made some progress (or immediately if there
	// is nothing to do).
	RunOne(ctx context.Context)
	// Close releases the transmitter's resources.
	Close() error
}

// Config configures a UDPTransmitter.
type Config struct {
	DestAddr     string
	Port         int
	RateLimitBps float64 // 0 disables rate limiting
	MTU          int
	TunnelAddr   string
	TunnelPort   int
	FDTNamespace string // e.g. "FDT_NS_DRAFT_2005"
}

// UDPTransmitter is a minimal, real UDP-based implementation of
// Transmitter: each submitted object is serialised as a single framed
// datagram (an 8-byte TOI header followed by the content), optionally
// rate-limited to RateLimitBps bits/second. It completes the TOI
// synchronously from RunOne once the datagram has been written.
type UDPTransmitter struct {
	cfg     Config
	conn    *net.UDPConn
	limiter *rate.Limiter

	mu         sync.Mutex
	nextTOI    TOI
	pending    []pendingSend
	onComplete CompletionFunc
}

type pendingSend struct {
	toi TOI
	fd  *FileDescription
}

// NewUDPTransmitter dials the configured destination and returns a ready
// Transmitter. If cfg.RateLimitBps is 0 no rate limiting is applied.
func NewUDPTransmitter(cfg Config) (*UDPTransmitter, error) {
	addr := net.JoinHostPort(cfg.DestAddr, fmt.Sprintf("%d", cfg.Port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transmitter: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transmitter: dial %s: %w", addr, err)
	}

	t := &UDPTransmitter{cfg: cfg, conn: conn, nextTOI: 1}
	if cfg.RateLimitBps > 0 {
		// rate.Limiter tracks "events per second"; we spend it in bytes
		// (bits/8) with a one-MTU burst, matching the packager's
		// per-object send granularity.
		bytesPerSec := cfg.RateLimitBps / 8
		burst := cfg.MTU
		if burst <= 0 {
			burst = 1500
		}
		t.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return t, nil
}

func (t *UDPTransmitter) OnCompletion(fn CompletionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = fn
}

// Send assigns the next TOI to fd and enqueues it for transmission on
// the next RunOne call.
func (t *UDPTransmitter) Send(fd *FileDescription) (TOI, error) {
	t.mu.Lock()
	toi := t.nextTOI
	t.nextTOI++
	t.pending = append(t.pending, pendingSend{toi: toi, fd: fd})
	t.mu.Unlock()

	fd.SetTOI(toi)
	return toi, nil
}

// RunOne transmits the single oldest pending object, applying the
// configured rate limit to its byte length, then invokes the completion
// callback for its TOI.
func (t *UDPTransmitter) RunOne(ctx context.Context) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	send := t.pending[0]
	t.pending = t.pending[1:]
	cb := t.onComplete
	t.mu.Unlock()

	if t.limiter != nil {
		remaining := len(send.fd.Content) + headerSize
		for remaining > 0 {
			n := min(remaining, t.limiter.Burst())
			if err := t.limiter.WaitN(ctx, n); err != nil {
				log.Logger.Warn().Err(err).Msg("transmitter: rate limiter wait failed")
				break
			}
			remaining -= n
		}
	}

	frame := make([]byte, headerSize+len(send.fd.Content))
	binary.BigEndian.PutUint64(frame[:headerSize], uint64(send.toi))
	copy(frame[headerSize:], send.fd.Content)

	if _, err := t.conn.Write(frame); err != nil {
		log.Logger.Warn().Err(err).Uint64("toi", uint64(send.toi)).Msg("transmitter: write failed")
	}

	if cb != nil {
		cb(send.toi)
	}
}

func (t *UDPTransmitter) Close() error {
	return t.conn.Close()
}

const headerSize = 8
