package coremain

import (
	"net"
	"strconv"

	"github.com/skaris/proxyd/mlog"
	"github.com/skaris/proxyd/pkg/cache"
)

const (
	defaultListen = ":8080"

	defaultMaxTotalBytes = 200 << 20
	defaultMaxEntryBytes = 10 << 20

	defaultDialTimeoutSec = 15
	defaultResolveTTLSec  = 60
)

type Config struct {
	// Listen is the client-facing TCP address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// ProxyProtocol accepts a PROXY protocol header on client
	// connections (for a load balancer in front of the proxy).
	ProxyProtocol bool `yaml:"proxy_protocol"`

	Cache     cache.Config    `yaml:"cache"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	API       APIConfig       `yaml:"api"`
	Log       mlog.LogConfig  `yaml:"log"`
}

type UpstreamConfig struct {
	// DialTimeout in seconds bounds resolve plus connect per request.
	DialTimeout uint `yaml:"dial_timeout"`

	// ResolveTTL in seconds is the origin address cache lifetime.
	ResolveTTL uint `yaml:"resolve_ttl"`
}

type BlocklistConfig struct {
	// File is an optional host blocklist, one host per line.
	File string `yaml:"file"`
}

type APIConfig struct {
	// HTTP is the address of the metrics/debug API server. Empty
	// disables the API.
	HTTP string `yaml:"http"`
}

func (c *Config) setDefaults() {
	if len(c.Listen) == 0 {
		c.Listen = defaultListen
	}
	if c.Cache.MaxTotalBytes == 0 {
		c.Cache.MaxTotalBytes = defaultMaxTotalBytes
	}
	if c.Cache.MaxEntryBytes == 0 {
		c.Cache.MaxEntryBytes = defaultMaxEntryBytes
	}
	if c.Upstream.DialTimeout == 0 {
		c.Upstream.DialTimeout = defaultDialTimeoutSec
	}
	if c.Upstream.ResolveTTL == 0 {
		c.Upstream.ResolveTTL = defaultResolveTTLSec
	}
}

// overridePort pins the listen port, keeping the configured interface.
func (c *Config) overridePort(port int) {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		host = ""
	}
	c.Listen = net.JoinHostPort(host, strconv.Itoa(port))
}
