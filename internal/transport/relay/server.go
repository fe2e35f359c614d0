package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/platform/privacy"
)

// Server bridges relay connections to local transports, one transport per
// connection.
type Server struct {
	open     func() (apdu.Transport, error)
	maxFrame int
	logger   *slog.Logger
}

func NewServer(open func() (apdu.Transport, error), logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{open: open, maxFrame: DefaultMaxFrameSize, logger: logger}
}

// Serve accepts connections until ctx is done or ln fails. It closes ln and
// waits for open connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close() //nolint:errcheck // unblocks Accept
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	peer := privacy.AnonymizeAddr(conn.RemoteAddr().String())
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close() //nolint:errcheck // unblocks ReadFrame
	})
	defer stop()
	defer conn.Close() //nolint:errcheck // peer may already be gone

	transport, err := s.open()
	if err != nil {
		s.logger.ErrorContext(ctx, "relay transport unavailable", "peer", peer, "error", err)
		return
	}
	defer func() {
		if err := transport.Close(); err != nil {
			s.logger.WarnContext(ctx, "closing relay transport failed", "peer", peer, "error", err)
		}
	}()
	s.logger.InfoContext(ctx, "relay client connected", "peer", peer)

	for {
		command, err := ReadFrame(conn, s.maxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "relay read failed", "peer", peer, "error", err)
			}
			return
		}
		resp, err := transport.Exchange(ctx, command)
		if err != nil {
			s.logger.WarnContext(ctx, "relay exchange failed", "peer", peer, "error", err)
			return
		}
		if err := WriteFrame(conn, resp, s.maxFrame); err != nil {
			s.logger.WarnContext(ctx, "relay write failed", "peer", peer, "error", err)
			return
		}
	}
}
