// Package protocol implements the PostgreSQL wire protocol in front of the
// SQL executor.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/adrianmcphee/smarterid"
	"github.com/adrianmcphee/smarterid/internal/executor"
	"github.com/jackc/pgproto3/v2"
)

// Server handles PostgreSQL wire protocol connections
type Server struct {
	addr     string
	executor *executor.Executor
	logger   smarterid.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	nextPID  uint32
}

// NewServer creates a protocol server answering queries with exec.
func NewServer(addr string, exec *executor.Executor, logger smarterid.Logger) *Server {
	if logger == nil {
		logger = &smarterid.NoOpLogger{}
	}
	return &Server{
		addr:     addr,
		executor: exec,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and serves until Close.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It returns nil after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("smarterid listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// Close stops accepting and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection processes a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("new connection", "remote", remote)

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
	if err := s.startup(conn, backend); err != nil {
		s.logger.Debug("startup failed", "remote", remote, "error", err)
		return
	}

	// After an extended-protocol error the client's remaining messages are
	// skipped until Sync, as PostgreSQL does.
	skipUntilSync := false

	for {
		msg, err := backend.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("client disconnected", "remote", remote)
			} else {
				s.logger.Warn("receive error", "remote", remote, "error", err)
			}
			return
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			if err := s.handleQuery(conn, m.String); err != nil {
				s.logger.Warn("write error", "remote", remote, "error", err)
				return
			}

		case *pgproto3.Parse, *pgproto3.Bind, *pgproto3.Describe, *pgproto3.Execute:
			if skipUntilSync {
				continue
			}
			skipUntilSync = true
			buf := (&pgproto3.ErrorResponse{
				Severity: "ERROR",
				Code:     executor.CodeFeatureUnsupported,
				Message:  "extended query protocol is not supported, use the simple protocol",
			}).Encode(nil)
			if _, err := conn.Write(buf); err != nil {
				return
			}

		case *pgproto3.Sync:
			skipUntilSync = false
			if _, err := conn.Write(readyForQuery(nil)); err != nil {
				return
			}

		case *pgproto3.Terminate:
			s.logger.Debug("client terminated connection", "remote", remote)
			return

		default:
			s.logger.Debug("unhandled message type", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// startup declines SSL and answers the startup message.
func (s *Server) startup(conn net.Conn, backend *pgproto3.Backend) error {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return fmt.Errorf("read startup: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			// SSL request - decline with 'N', client sends regular startup next
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return fmt.Errorf("write SSL response: %w", err)
			}
			continue

		case *pgproto3.CancelRequest:
			return errors.New("cancel request ignored")

		case *pgproto3.StartupMessage:
			s.logger.Debug("startup",
				"database", m.Parameters["database"],
				"user", m.Parameters["user"],
				"protocol", fmt.Sprintf("%d.%d", m.ProtocolVersion>>16, m.ProtocolVersion&0xffff),
			)
			return s.sendStartupResponse(conn)

		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

func (s *Server) sendStartupResponse(conn net.Conn) error {
	buf := (&pgproto3.AuthenticationOk{}).Encode(nil)

	params := []struct{ name, value string }{
		{"server_version", "15.0 (smarterid)"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"server_encoding", "UTF8"},
		{"TimeZone", "UTC"},
		{"integer_datetimes", "on"},
		{"standard_conforming_strings", "on"},
	}
	for _, p := range params {
		buf = (&pgproto3.ParameterStatus{Name: p.name, Value: p.value}).Encode(buf)
	}

	buf = (&pgproto3.BackendKeyData{
		ProcessID: atomic.AddUint32(&s.nextPID, 1),
		SecretKey: 0,
	}).Encode(buf)
	buf = readyForQuery(buf)

	_, err := conn.Write(buf)
	return err
}

// handleQuery processes a simple query
func (s *Server) handleQuery(conn net.Conn, query string) error {
	s.logger.Debug("query", "sql", query)

	var buf []byte
	result, err := s.executor.Execute(context.Background(), query)
	switch {
	case err != nil:
		buf = (&pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     executor.Code(err),
			Message:  err.Error(),
		}).Encode(buf)

	case len(result.Columns) == 0 && result.Message == "":
		buf = (&pgproto3.EmptyQueryResponse{}).Encode(buf)

	default:
		if len(result.Columns) > 0 {
			buf = rowDescription(result.Columns).Encode(buf)
			for _, row := range result.Rows {
				buf = dataRow(row).Encode(buf)
			}
		}
		buf = (&pgproto3.CommandComplete{CommandTag: []byte(result.Message)}).Encode(buf)
	}

	_, err = conn.Write(readyForQuery(buf))
	return err
}

func readyForQuery(buf []byte) []byte {
	return (&pgproto3.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
}

func rowDescription(cols []executor.Column) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, c := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(c.Name),
			DataTypeOID:  c.TypeOID,
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       0, // text
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

func dataRow(values []string) *pgproto3.DataRow {
	row := &pgproto3.DataRow{Values: make([][]byte, len(values))}
	for i, v := range values {
		row.Values[i] = []byte(v)
	}
	return row
}
