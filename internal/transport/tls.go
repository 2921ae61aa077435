package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	takerrors "github.com/takrelay/aggregator/internal/errors"

	"github.com/takrelay/aggregator/internal/config"
)

// TLS implements Transport over a TLS-wrapped TCP stream, newline-delimited
// like TCP. Certificate/handshake failures are classified permanent per
// spec §4.1 ("Permanent errors ... certificate rejected").
type TLS struct {
	cfg    config.ServerConfig
	conn   *tls.Conn
	reader *bufio.Reader
}

func NewTLS(cfg config.ServerConfig) *TLS { return &TLS{cfg: cfg} }

func (t *TLS) Open(ctx context.Context) error {
	tlsCfg, err := buildTLSConfig(t.cfg.TLS)
	if err != nil {
		return takerrors.Wrap("transport.TLS.Open", takerrors.KindCertificate, err)
	}

	var d tls.Dialer
	d.Config = tlsCfg
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Endpoint)
	if err != nil {
		// Dial-level failures (connection refused, timeout, DNS) are
		// transient; handshake failures surface via tls.Dialer as an
		// *tls.CertificateVerificationError or x509 errors, which we
		// treat as permanent below.
		var verifyErr *tls.CertificateVerificationError
		var invalidErr x509.CertificateInvalidError
		if errors.As(err, &verifyErr) || errors.As(err, &invalidErr) {
			return takerrors.Wrap("transport.TLS.Open", takerrors.KindCertificate, err)
		}
		return takerrors.Transport("transport.TLS.Open", err, true)
	}

	t.conn = conn.(*tls.Conn)
	t.reader = bufio.NewReader(t.conn)
	return nil
}

func (t *TLS) ReadFrame(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return trimNewline(line), nil
}

func (t *TLS) WriteFrame(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.Write(append(append([]byte{}, b...), '\n'))
	return err
}

func (t *TLS) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.ServerName,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, os.ErrInvalid
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
