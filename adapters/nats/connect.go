package nats

import (
	"log/slog"
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection and returns a func releasing it.
type Connector func() (nc *natsgo.Conn, release closeFunc, err error)

// ReuseConnection lets the event store and the key/value buckets of one
// process share a connection. Every lease releases at most once; the
// connection closes with the last lease and the next lease dials again.
func ReuseConnection(connect Connector) Connector {
	var (
		mu      sync.Mutex
		nc      *natsgo.Conn
		closeNc closeFunc
		leases  int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leases--
		if leases == 0 && closeNc != nil {
			closeNc()
			nc, closeNc = nil, nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil || nc.IsClosed() {
			c, cl, err := connect()
			if err != nil {
				return nil, nil, err
			}
			nc, closeNc = c, cl
		}
		leases++
		return nc, sync.OnceFunc(release), nil
	}
}

// LogConnectionEvents reports disconnects, reconnects and the final close of
// a connection to log.
func LogConnectionEvents(log *slog.Logger) natsgo.Option {
	return func(o *natsgo.Options) error {
		o.DisconnectedErrCB = func(nc *natsgo.Conn, err error) {
			log.Warn("nats disconnected", slog.String("conn", nc.Opts.Name), slog.Any("error", err))
		}
		o.ReconnectedCB = func(nc *natsgo.Conn) {
			log.Info("nats reconnected", slog.String("conn", nc.Opts.Name), slog.String("url", nc.ConnectedUrl()))
		}
		o.ClosedCB = func(nc *natsgo.Conn) {
			log.Debug("nats connection closed", slog.String("conn", nc.Opts.Name))
		}
		return nil
	}
}

// ConnectURL dials natsURL. opts are applied after the pagestore defaults.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(natsURL, append([]natsgo.Option{
			natsgo.Name("pagestore"),
			natsgo.MaxReconnects(3),
		}, opts...)...)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault dials $NATS_URL, falling back to the NATS default URL.
func ConnectDefault(opts ...natsgo.Option) Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL, opts...)
	}
	return ConnectURL(natsgo.DefaultURL, opts...)
}
