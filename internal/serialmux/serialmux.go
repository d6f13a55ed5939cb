// Package serialmux multiplexes a line-oriented serial link: one reader
// fans inbound lines out to subscribers, and writers share the port under
// a lock.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/wayguide/wayguide/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// DefaultSubscriberBuffer is the per-subscriber line backlog before lines
// are dropped for that subscriber.
const DefaultSubscriberBuffer = 32

// maxLineBytes bounds a single inbound line. Longer lines are discarded
// up to the next newline and counted by Oversized.
const maxLineBytes = 64 * 1024

// LineMux is the behaviour the control server needs from a link.
type LineMux interface {
	// Subscribe returns a channel of inbound lines and its ID.
	Subscribe() (string, <-chan string)
	// Unsubscribe closes and removes a subscription.
	Unsubscribe(string)
	// SendLine writes line to the port, appending a newline if missing.
	SendLine(string) error
	// Monitor reads lines until ctx ends, the port fails or it hits EOF.
	Monitor(context.Context) error
	// Close closes all subscriptions and the port.
	Close() error
	// Dropped returns the number of lines dropped for slow subscribers.
	Dropped() uint64
	// Oversized returns the number of inbound lines discarded for
	// exceeding the line limit.
	Oversized() uint64
}

// SerialMux is a generic line multiplexer over a SerialPorter.
type SerialMux[T SerialPorter] struct {
	port   T
	buffer int

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	dropped      uint64
	oversized    atomic.Uint64

	writeMu sync.Mutex

	closingMu sync.Mutex
	closing   bool
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		buffer:      DefaultSubscriberBuffer,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, <-chan string) {
	id := randomID()
	ch := make(chan string, s.buffer)

	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		close(ch)
		return id, ch
	}

	s.subscriberMu.Lock()
	s.subscribers[id] = ch
	s.subscriberMu.Unlock()
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) SendLine(line string) error {
	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		return ErrClosed
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailed, n, len(line))
	}
	return nil
}

// Monitor returns nil on EOF, ctx.Err() on cancellation and the read error
// otherwise. Blank lines and surrounding whitespace are stripped. A line
// longer than maxLineBytes is skipped and the loop carries on.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	r := bufio.NewReaderSize(s.port, maxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking read runs on its own goroutine so the loop below can
	// observe cancellation. Closing the port unblocks it.
	go func() {
		defer close(lineChan)
		for {
			line, skipped, err := readLine(r)
			if skipped > 0 {
				s.oversized.Add(1)
				monitoring.Logf("serialmux: discarded %d byte line over the %d byte limit", skipped, maxLineBytes)
			} else if len(line) > 0 {
				select {
				case lineChan <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					scanErrChan <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.fanOut(line)
		}
	}
}

// readLine returns the next line including its newline. When the line does
// not fit the reader's buffer it is consumed through the next newline and
// only its size is returned.
func readLine(r *bufio.Reader) (line string, skipped int, err error) {
	for {
		frag, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			skipped += len(frag)
			continue
		}
		if skipped > 0 {
			return "", skipped + len(frag), err
		}
		return string(frag), 0, err
	}
}

func (s *SerialMux[T]) fanOut(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// full subscriber; skip rather than stall the reader
			s.dropped++
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) Dropped() uint64 {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.dropped
}

func (s *SerialMux[T]) Oversized() uint64 {
	return s.oversized.Load()
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes registers link debugging endpoints under /debug/ on
// mux: "link-send" writes a line as if it came from this side, and
// "link-tail" streams inbound lines as server-sent events.
func AttachAdminRoutes(mux *http.ServeMux, current func() LineMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("link-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		line := strings.TrimSpace(r.FormValue("line"))
		if line == "" {
			http.Error(w, "Missing line", http.StatusBadRequest)
			return
		}
		link := current()
		if link == nil {
			http.Error(w, "No client connected", http.StatusServiceUnavailable)
			return
		}
		if err := link.SendLine(line); err != nil {
			http.Error(w, "Failed to write line", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %q to link", line))
	})

	debug.HandleFunc("link-tail", "stream inbound control lines", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		link := current()
		if link == nil {
			http.Error(w, "No client connected", http.StatusServiceUnavailable)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := link.Subscribe()
		defer link.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
