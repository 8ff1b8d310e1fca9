package socket

import (
	"context"

	"go.uber.org/zap"
)

// Provider owns the session's connection and starts or stops it on behalf
// of the daemon and the control API.
type Provider struct {
	conn   *Connection
	logger *zap.Logger
}

// NewProvider wraps conn.
func NewProvider(conn *Connection, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{conn: conn, logger: logger}
}

// Connection returns the managed connection.
func (p *Provider) Connection() *Connection {
	return p.conn
}

// StartSocket connects the socket.
func (p *Provider) StartSocket(ctx context.Context) error {
	return p.conn.Connect(ctx)
}

// StopSocket disconnects the socket. Errors never propagate; each one is
// logged.
func (p *Provider) StopSocket() {
	if err := p.conn.Disconnect(); err != nil {
		p.logger.Warn("stop socket", zap.String("url", p.conn.URL()), zap.Error(err))
	}
}

// Close ends the connection and its stream, logging any error.
func (p *Provider) Close() {
	if err := p.conn.Close(); err != nil {
		p.logger.Warn("close socket", zap.String("url", p.conn.URL()), zap.Error(err))
	}
}
