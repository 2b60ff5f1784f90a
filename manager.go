package vmemcached

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/pior/vmemcached/ascii"
)

var errUnsolicitedData = errors.New("vmemcached: unsolicited data on idle connection")

// Manager creates and checks the connections of one target. It is what
// the pool calls to fill itself and to vet a connection before leasing it.
type Manager struct {
	target              Target
	dialer              *net.Dialer
	dialTimeout         time.Duration
	tlsConfig           *tls.Config
	validateWithVersion bool
	driver              *Driver
	logger              *slog.Logger
}

// NewManager resolves target (see ParseTarget) and returns a Manager
// connecting to it with the dial, TLS and validation settings of config.
func NewManager(target string, config Config) (*Manager, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	config = config.withDefaults()

	tlsConfig := config.TLSConfig
	if t.TLS {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = t.Host()
		}
	}

	return &Manager{
		target:              t,
		dialer:              config.Dialer,
		dialTimeout:         config.DialTimeout,
		tlsConfig:           tlsConfig,
		validateWithVersion: config.ValidateWithVersion,
		driver:              NewDriver(config),
		logger:              config.Logger.With("target", t.String()),
	}, nil
}

func (m *Manager) Target() Target {
	return m.target
}

// Create dials the target, runs the TLS handshake and authenticates if the
// target is configured for it.
func (m *Manager) Create(ctx context.Context) (*Connection, error) {
	if m.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()
	}

	netConn, err := m.dialer.DialContext(ctx, m.target.Network, m.target.Address)
	if err != nil {
		return nil, ioError("dial", err)
	}

	if m.target.TLS {
		tlsConn := tls.Client(netConn, m.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = netConn.Close()
			return nil, ioError("tls handshake", err)
		}
		netConn = tlsConn
	}

	conn := NewConnection(netConn)

	if m.target.Username != "" {
		if err := m.authenticate(ctx, conn); err != nil {
			_ = conn.Close()
			m.logger.Warn("vmemcached: authentication failed", "error", err)
			return nil, err
		}
	}

	m.logger.Debug("vmemcached: connection created", "remote", netConn.RemoteAddr())
	return conn, nil
}

func (m *Manager) authenticate(ctx context.Context, conn *Connection) error {
	resp, err := m.driver.Do(ctx, conn, ascii.NewAuthRequest(m.target.Username, m.target.Password))
	if err != nil {
		var de *DriverError
		if errors.As(err, &de) {
			de.Op = "auth"
		}
		return err
	}
	if resp.Status != ascii.StatusStored {
		return &DriverError{Class: ClassServer, Op: "auth", Message: resp.Status.String()}
	}
	return nil
}

// Validate returns an error if conn must not be leased: it is broken, the
// peer is gone, it holds bytes nobody asked for, or, with
// ValidateWithVersion, it does not answer a version command properly.
func (m *Manager) Validate(ctx context.Context, conn *Connection) error {
	switch conn.probe() {
	case connClosed:
		return ErrConnBroken
	case connReadable:
		return errUnsolicitedData
	}

	if m.validateWithVersion {
		if _, err := m.driver.Do(ctx, conn, ascii.NewVersionRequest()); err != nil {
			return err
		}
	}
	return nil
}

// HasBroken reports whether conn must be evicted rather than recycled
// after a command.
func (m *Manager) HasBroken(conn *Connection) bool {
	return conn.IsBroken()
}
