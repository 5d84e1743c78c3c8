// Package nativemsg implements the browser native-messaging transport: each
// message is a little-endian uint32 length followed by UTF-8 JSON.
package nativemsg

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/session_agent/internal/session"
)

const (
	// MaxInbound is the largest message the browser may send.
	MaxInbound = 64 << 20
	// MaxOutbound is the largest message the browser accepts from a host.
	MaxOutbound = 1 << 20
)

var ErrTooLarge = errors.New("nativemsg: message too large")

// Handler answers one decoded message.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte) session.Response
}

// ReadMessage reads one framed message.
func ReadMessage(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > MaxInbound {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("nativemsg: short message: %w", err)
	}
	return buf, nil
}

// WriteMessage marshals v and writes it as one framed message.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nativemsg: marshal: %w", err)
	}
	if len(payload) > MaxOutbound {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Host serves messages from a browser over a pair of streams. Messages are
// handled one at a time in arrival order.
type Host struct {
	handler Handler

	mu sync.Mutex
}

func NewHost(handler Handler) *Host {
	return &Host{handler: handler}
}

// Serve reads until r is exhausted or ctx is done. A clean EOF between
// messages returns nil.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			slog.Info("native host input closed")
			return nil
		}
		if err != nil {
			return err
		}

		resp := h.handler.HandleMessage(ctx, raw)
		if err := h.write(w, resp); err != nil {
			return err
		}
	}
}

func (h *Host) write(w io.Writer, resp session.Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := WriteMessage(w, resp)
	if !errors.Is(err, ErrTooLarge) {
		return err
	}
	slog.Warn("native host response too large", "bytes", len(resp.ResultJSON))
	fallback := session.Response{
		ResultJSON: session.Fail("Response too large for native messaging", session.CodeHandlerError).JSON(),
	}
	return WriteMessage(w, fallback)
}
