// Package server multiplexes client connections onto a single control loop.
//
// The loop goroutine owns every session, the dispatcher and the price cache.
// Socket I/O and quote fetches run on their own goroutines and report back
// through one event channel, so no domain state is shared between goroutines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptowallet/internal/dispatch"
	"github.com/alanyoungcy/cryptowallet/internal/protocol"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

// ErrServerClosed is returned by Submit once the loop has stopped.
var ErrServerClosed = errors.New("server: closed")

// Config holds the listener and loop settings.
type Config struct {
	Addr          string
	Framing       protocol.Framing
	MaxFrameBytes int
	WriteTimeout  time.Duration
	// SendBuffer is the number of responses queued per connection before
	// the connection is dropped as too slow. It also bounds the requests a
	// connection may queue behind one waiting for quotes.
	SendBuffer int
	// AsyncQuotes moves quote fetches off the loop. When false the loop
	// fetches inline and every connection waits for it.
	AsyncQuotes  bool
	QuoteWorkers int
	// QuoteQueue bounds fetch jobs waiting for a worker. A request that
	// finds it full is answered with a retry message.
	QuoteQueue int
}

func (c *Config) setDefaults() {
	if c.Framing == "" {
		c.Framing = protocol.FramingLength
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = protocol.DefaultMaxFrame
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.QuoteWorkers <= 0 {
		c.QuoteWorkers = 4
	}
	if c.QuoteQueue <= 0 {
		c.QuoteQueue = 64
	}
}

// Task runs on the control loop.
type Task func(ctx context.Context)

type eventKind int

const (
	eventAccepted eventKind = iota
	eventRequest
	eventClosed
	eventQuotes
	eventTask
	eventFatal
)

type event struct {
	kind    eventKind
	connID  string
	nc      net.Conn
	payload []byte
	result  quote.Result
	task    Task
	err     error
}

type fetchJob struct {
	connID string
	job    quote.Job
}

// Server is the wallet TCP server.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	cache      *quote.Cache
	logger     *slog.Logger

	listener net.Listener
	events   chan event
	jobs     chan fetchJob
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// conns is owned by the loop.
	conns map[string]*conn
}

// New creates a Server. Call Listen, then Serve.
func New(cfg Config, dispatcher *dispatch.Dispatcher, cache *quote.Cache, logger *slog.Logger) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger.With(slog.String("component", "server")),
		events:     make(chan event, 256),
		jobs:       make(chan fetchJob, cfg.QuoteQueue),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		conns:      make(map[string]*conn),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("framing", string(s.cfg.Framing)),
		slog.Bool("async_quotes", s.cfg.AsyncQuotes),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop asks the loop to exit. It returns immediately.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Submit schedules task on the control loop. It blocks until the loop
// accepts the task or ctx ends.
func (s *Server) Submit(ctx context.Context, task Task) error {
	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	select {
	case s.events <- event{kind: eventTask, task: task}:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the control loop until Stop is called, ctx ends, or accepting
// fails for good. Open connections are closed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: serve: not listening")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.acceptLoop(gctx)
		return nil
	})
	if s.cfg.AsyncQuotes {
		for i := 0; i < s.cfg.QuoteWorkers; i++ {
			g.Go(func() error {
				s.quoteWorker(gctx)
				return nil
			})
		}
	}

	err := s.loop(gctx)

	close(s.done)
	cancel()
	_ = s.listener.Close()
	for _, c := range s.conns {
		s.closeConn(c, true)
	}
	_ = g.Wait()

	s.logger.Info("server stopped")
	return err
}

func (s *Server) loop(ctx context.Context) error {
	for {
		select {
		case <-s.quit:
			return nil
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventAccepted:
		s.accept(ev.nc)
	case eventRequest:
		if c, ok := s.conns[ev.connID]; ok {
			s.request(ctx, c, ev.payload)
		}
	case eventClosed:
		if c, ok := s.conns[ev.connID]; ok {
			if !isPeerGone(ev.err) {
				s.logger.Warn("connection read failed",
					slog.String("conn_id", c.id),
					slog.String("error", ev.err.Error()),
				)
			}
			s.closeConn(c, false)
		}
	case eventQuotes:
		s.quotesFetched(ctx, ev.connID, ev.result)
	case eventTask:
		ev.task(ctx)
	case eventFatal:
		return ev.err
	}
	return nil
}

// post hands ev to the loop. It reports false once the loop has exited.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	var backoff time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying",
					slog.String("error", err.Error()),
					slog.Duration("backoff", backoff),
				)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return
				}
			}
			s.post(event{kind: eventFatal, err: fmt.Errorf("server: accept: %w", err)})
			return
		}
		backoff = 0
		if !s.post(event{kind: eventAccepted, nc: nc}) {
			_ = nc.Close()
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) quoteWorker(ctx context.Context) {
	fetcher := s.cache.Fetcher()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			res := fetcher.Fetch(ctx, j.job)
			if !s.post(event{kind: eventQuotes, connID: j.connID, result: res}) {
				return
			}
		}
	}
}

func (s *Server) accept(nc net.Conn) {
	c := newConn(uuid.NewString(), nc, s.cfg.SendBuffer)
	s.conns[c.id] = c
	s.logger.Debug("connection accepted",
		slog.String("conn_id", c.id),
		slog.String("remote", nc.RemoteAddr().String()),
		slog.Int("open", len(s.conns)),
	)
	go s.readPump(c)
	go s.writePump(c)
}

// closeConn forgets c and releases its session. force also closes the
// socket right away instead of letting the writer drain.
func (s *Server) closeConn(c *conn, force bool) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	s.dispatcher.Disconnect(c.identity)
	close(c.send)
	if force {
		_ = c.nc.Close()
	}
	s.logger.Debug("connection closed",
		slog.String("conn_id", c.id),
		slog.String("identity", c.identity),
		slog.Int("open", len(s.conns)),
	)
}

func (s *Server) request(ctx context.Context, c *conn, payload []byte) {
	var req dispatch.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Debug("malformed request",
			slog.String("conn_id", c.id),
			slog.String("error", err.Error()),
		)
		s.reply(c, dispatch.Response{Recipient: c.identity, Message: dispatch.MessageUnknownCommand})
		return
	}
	// The session decides who is speaking, not the payload.
	req.Sender = c.identity

	if c.parked != nil {
		if len(c.pending) >= s.cfg.SendBuffer {
			s.logger.Warn("too many requests while waiting for quotes, dropping connection",
				slog.String("conn_id", c.id),
				slog.Int("pending", len(c.pending)),
			)
			s.closeConn(c, true)
			return
		}
		c.pending = append(c.pending, req)
		return
	}
	s.run(ctx, c, req)
}

func (s *Server) run(ctx context.Context, c *conn, req dispatch.Request) {
	if !s.cfg.AsyncQuotes {
		s.finish(c, s.dispatcher.Dispatch(ctx, req, s.cache))
		return
	}

	job := s.cache.Plan(s.dispatcher.QuoteNeeds(req))
	if job.IsZero() {
		s.finish(c, s.dispatcher.Dispatch(ctx, req, s.cache.Resolved(quote.Result{})))
		return
	}

	if !s.submit(c, job) {
		s.reply(c, dispatch.Response{Recipient: c.identity, Message: dispatch.MessageTryAgainLater})
		return
	}
	c.parked = &req
	c.fetched = quote.Result{}
}

// submit queues job for a worker. It reports false when the queue is full.
func (s *Server) submit(c *conn, job quote.Job) bool {
	select {
	case s.jobs <- fetchJob{connID: c.id, job: job}:
		return true
	default:
		s.logger.Warn("quote queue full", slog.String("conn_id", c.id))
		return false
	}
}

func (s *Server) quotesFetched(ctx context.Context, connID string, res quote.Result) {
	s.cache.Apply(res)

	c, ok := s.conns[connID]
	if !ok || c.parked == nil {
		return
	}
	c.fetched = c.fetched.Merge(res)
	req := *c.parked

	// Other sessions of the same account may have changed its holdings
	// while the fetch ran, and cached prices may have aged past the TTL.
	// Codes already fetched for this request are not asked for again.
	more := s.cache.Plan(s.dispatcher.QuoteNeeds(req)).Without(c.fetched.Job)
	if !more.IsZero() && s.submit(c, more) {
		return
	}

	fetched := c.fetched
	c.parked = nil
	c.fetched = quote.Result{}
	s.finish(c, s.dispatcher.Dispatch(ctx, req, s.cache.Resolved(fetched)))

	for c.parked == nil && len(c.pending) > 0 {
		if _, open := s.conns[c.id]; !open {
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		next.Sender = c.identity
		s.run(ctx, c, next)
	}
}

func (s *Server) finish(c *conn, resp dispatch.Response) {
	c.identity = resp.Recipient
	s.reply(c, resp)
}

func (s *Server) reply(c *conn, resp dispatch.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- protocol.Encode(s.cfg.Framing, payload):
	default:
		s.logger.Warn("send queue full, dropping connection", slog.String("conn_id", c.id))
		s.closeConn(c, true)
	}
}
