package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"go.uber.org/zap"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Client connects outbound to a gateway and serves the local HTTP listener
// to it over yamux streams. The gateway opens a stream per client request.
type Client struct {
	gatewayURL string // wss://gateway.example.com/tunnel
	secret     string // pre-shared secret
	localAddr  string // e.g. 127.0.0.1:8765
	log        *zap.Logger
}

func NewClient(gatewayURL, secret, localAddr string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gatewayURL: gatewayURL,
		secret:     secret,
		localAddr:  localAddr,
		log:        logger.Named("tunnel"),
	}
}

// Run keeps a tunnel open until ctx is cancelled, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		c.log.Warn("tunnel down, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !connected {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// connect serves one tunnel connection. connected reports whether the
// handshake got as far as a yamux session.
func (c *Client) connect(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		// The gateway usually runs with a self-signed certificate; the
		// pre-shared secret authenticates the connection.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	header := http.Header{}
	header.Set("X-Gateway-Secret", c.secret)

	wsConn, _, err := dialer.DialContext(ctx, c.gatewayURL, header)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}
	defer wsConn.Close()

	session, err := yamux.Server(NewWSConn(wsConn), yamux.DefaultConfig())
	if err != nil {
		return false, fmt.Errorf("yamux server: %w", err)
	}
	defer session.Close()
	c.log.Info("connected to gateway", zap.String("url", c.gatewayURL))

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	for {
		stream, err := session.Accept()
		if err != nil {
			return true, fmt.Errorf("accept stream: %w", err)
		}
		go c.handleStream(stream)
	}
}

func (c *Client) handleStream(stream net.Conn) {
	defer stream.Close()

	local, err := net.Dial("tcp", c.localAddr)
	if err != nil {
		c.log.Warn("dial local", zap.String("addr", c.localAddr), zap.Error(err))
		return
	}
	defer local.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(local, stream)
		if tcp, ok := local.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		close(done)
	}()
	io.Copy(stream, local)
	stream.Close()
	<-done
}
