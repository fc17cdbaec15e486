// Package upstream connects the proxy to origin servers. It resolves
// host names through a small expiring cache and dials plain TCP.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDialTimeout = time.Second * 15
	defaultResolveTTL  = time.Minute
	maxCachedHosts     = 4096
)

var (
	ErrResolve = errors.New("failed to resolve origin host")
	ErrDial    = errors.New("failed to connect to origin")

	nopLogger = zap.NewNop()
)

type Opts struct {
	// DialTimeout bounds resolve plus dial for one Connect call.
	// Default is 15s.
	DialTimeout time.Duration

	// ResolveTTL is how long resolved addresses are reused.
	// Default is 1min.
	ResolveTTL time.Duration

	// Logger optionally specifies a logger. A nil Logger disables logging.
	Logger *zap.Logger

	// LookupHost overrides the system resolver. For tests.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// Connector dials origins. It is safe for concurrent use.
type Connector struct {
	opts   Opts
	dialer net.Dialer

	sf singleflight.Group
	mu sync.RWMutex
	rc map[string]resolved

	dials     atomic.Int64
	dialErrs  atomic.Int64
	resolvErr atomic.Int64
}

type resolved struct {
	addrs  []string
	expire time.Time
}

func NewConnector(opts Opts) *Connector {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ResolveTTL <= 0 {
		opts.ResolveTTL = defaultResolveTTL
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.LookupHost == nil {
		opts.LookupHost = func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		}
	}

	return &Connector{
		opts: opts,
		rc:   make(map[string]resolved),
	}
}

// Connect opens a TCP connection to host:port. Resolution failures are
// wrapped in ErrResolve, dial failures in ErrDial.
func (c *Connector) Connect(ctx context.Context, host, port string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	var addrs []string
	if ip := net.ParseIP(host); ip != nil {
		addrs = []string{host}
	} else {
		var err error
		addrs, err = c.resolve(ctx, host)
		if err != nil {
			c.resolvErr.Add(1)
			return nil, fmt.Errorf("%w: %s: %s", ErrResolve, host, err)
		}
	}

	var dialErr error
	for _, addr := range addrs {
		c.dials.Add(1)
		conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		dialErr = err
		c.dialErrs.Add(1)
		c.opts.Logger.Debug("dial failed",
			zap.String("host", host),
			zap.String("addr", addr),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %s: %s", ErrDial, host, dialErr)
}

// resolve returns the addresses of host, consulting the cache first.
// Concurrent lookups for one host are collapsed into a single query.
func (c *Connector) resolve(ctx context.Context, host string) ([]string, error) {
	c.mu.RLock()
	r, ok := c.rc[host]
	c.mu.RUnlock()
	if ok && time.Now().Before(r.expire) {
		return r.addrs, nil
	}

	v, err, _ := c.sf.Do(host, func() (any, error) {
		addrs, err := c.opts.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, errors.New("resolver returned no address")
		}
		c.store(host, addrs)
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *Connector) store(host string, addrs []string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// The cache is bounded but traffic to that many distinct hosts is
	// not expected; expired entries are reaped in passing.
	if len(c.rc) >= maxCachedHosts {
		for h, r := range c.rc {
			if now.After(r.expire) {
				delete(c.rc, h)
			}
		}
		if len(c.rc) >= maxCachedHosts {
			clear(c.rc)
		}
	}

	c.rc[host] = resolved{
		addrs:  addrs,
		expire: now.Add(c.opts.ResolveTTL),
	}
}

// Collectors returns the prometheus collectors of this connector.
func (c *Connector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_upstream_dials_total",
			Help: "Number of TCP dial attempts to origins.",
		}, func() float64 { return float64(c.dials.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_upstream_dial_errors_total",
			Help: "Number of failed dial attempts.",
		}, func() float64 { return float64(c.dialErrs.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_upstream_resolve_errors_total",
			Help: "Number of failed host resolutions.",
		}, func() float64 { return float64(c.resolvErr.Load()) }),
	}
}
