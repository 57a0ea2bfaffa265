package finagle

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// netTransporter is the default Transporter: TCP through net.Dialer with
// optional TLS. Reader/writer idle timeouts are not applied here; deadline
// management belongs to the codec that owns the framing.
type netTransporter struct {
	dialer    net.Dialer
	tlsConfig *tls.Config
	sendBuf   int
	recvBuf   int
}

// NewNetTransporter builds the default TCP transporter. It is the
// TransporterFactory used when the builder is given none.
func NewNetTransporter(cfg TransportConfig) Transporter {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	if cfg.KeepAlive {
		d.KeepAlive = 30 * time.Second
	} else {
		d.KeepAlive = -1
	}
	return &netTransporter{
		dialer:    d,
		tlsConfig: cfg.TLS,
		sendBuf:   cfg.SendBufferSize,
		recvBuf:   cfg.RecvBufferSize,
	}
}

func (t *netTransporter) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if t.sendBuf > 0 {
			_ = tcp.SetWriteBuffer(t.sendBuf)
		}
		if t.recvBuf > 0 {
			_ = tcp.SetReadBuffer(t.recvBuf)
		}
	}
	if t.tlsConfig != nil {
		tlsConn := tls.Client(conn, t.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}
