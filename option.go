package msgnet

import (
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	// defaultMaxPayloadSize is the default maximum payload of a single frame (1MB).
	defaultMaxPayloadSize = 1024 * 1024
	// defaultReadBufferSize is the default size of the per-connection read buffer.
	defaultReadBufferSize = 4096
	// defaultDialTimeout bounds name resolution and dialing in Client.Connect.
	defaultDialTimeout = 5 * time.Second
)

// options holds the configuration shared by servers, clients and their connections.
type options struct {
	logger  Logger
	metrics *Metrics

	maxPayloadSize uint32
	readBufferSize int
	heartbeat      time.Duration // read/write deadline is heartbeat * 2; zero disables it
	dialTimeout    time.Duration
	sendRate       int // frames per second per connection; zero is unlimited

	// server only
	listenHost     string
	maxConnections int
	acceptRate     rate.Limit
	acceptBurst    int
}

// Option is a function that configures a Server, a Client and the
// connections they create.
type Option func(*options)

func newOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for anything left unset.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.maxPayloadSize == 0 {
		opts.maxPayloadSize = defaultMaxPayloadSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.heartbeat < 0 {
		opts.heartbeat = 0
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.sendRate < 0 {
		opts.sendRate = 0
	}

	if opts.maxConnections < 0 {
		opts.maxConnections = 0
	}

	if opts.acceptRate > 0 && opts.acceptBurst <= 0 {
		opts.acceptBurst = 1
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records connection and traffic
// metrics into m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// MessageMaxSize returns an Option that sets the maximum payload size of a
// frame. An inbound frame announcing a larger payload closes the
// connection; Send refuses a larger outbound payload with
// ErrMessageTooLarge. Both peers should use the same limit, since only the
// receiving side's limit decides whether the link survives.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.maxPayloadSize = uint32(size)
		}
	}
}

// ReadBufferSizeOption returns an Option that sets the size of each
// connection's read buffer.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the heartbeat interval.
// This determines the read/write deadline timeout (heartbeat * 2).
// Without it connections never time out.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// DialTimeoutOption returns an Option that bounds address resolution and
// dialing in Client.Connect.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// SendRateOption returns an Option that paces each connection's writes to at
// most perSecond frames per second.
func SendRateOption(perSecond int) Option {
	return func(o *options) {
		o.sendRate = perSecond
	}
}

// ListenHostOption returns an Option that sets the address a Server binds
// to. The default is every interface.
func ListenHostOption(host string) Option {
	return func(o *options) {
		o.listenHost = host
	}
}

// MaxConnectionsOption returns an Option that caps the number of sockets a
// Server keeps open at once. Further clients wait in the listen backlog.
func MaxConnectionsOption(n int) Option {
	return func(o *options) {
		o.maxConnections = n
	}
}

// AcceptRateOption returns an Option that limits how fast a Server hands
// accepted sockets to OnClientConnect. Failed accepts do not take a token.
func AcceptRateOption(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.acceptRate = limit
		o.acceptBurst = burst
	}
}
