package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/dispatch"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/protocol"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

// conn is one client session. Every field except nc and send is owned by
// the control loop.
type conn struct {
	id       string
	nc       net.Conn
	send     chan []byte
	identity string

	// parked is the request waiting for a quote fetch. Requests that arrive
	// meanwhile queue in pending and run in order once it completes.
	// fetched accumulates the fetch outcomes for parked.
	parked  *dispatch.Request
	pending []dispatch.Request
	fetched quote.Result
}

func newConn(id string, nc net.Conn, sendBuffer int) *conn {
	return &conn{
		id:       id,
		nc:       nc,
		send:     make(chan []byte, sendBuffer),
		identity: domain.Guest,
	}
}

// readPump frames requests off the socket and posts them to the loop until
// the peer goes away.
func (s *Server) readPump(c *conn) {
	fr := protocol.NewReader(c.nc, s.cfg.Framing, s.cfg.MaxFrameBytes)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			s.post(event{kind: eventClosed, connID: c.id, err: err})
			return
		}
		if !s.post(event{kind: eventRequest, connID: c.id, payload: payload}) {
			return
		}
	}
}

// writePump writes queued frames until the loop closes the send channel,
// then closes the socket.
func (s *Server) writePump(c *conn) {
	defer c.nc.Close()

	for frame := range c.send {
		if s.cfg.WriteTimeout > 0 {
			_ = c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if _, err := c.nc.Write(frame); err != nil {
			s.logger.Debug("write failed",
				slog.String("conn_id", c.id),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
