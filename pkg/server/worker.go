package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/skaris/proxyd/pkg/httpmsg"
	"github.com/skaris/proxyd/pkg/pool"
)

// Synthetic responses sent when the proxy cannot produce origin bytes.
const (
	statusBadRequest    = "400 Bad Request"
	statusForbidden     = "403 Forbidden"
	statusInternalError = "500 Internal Server Error"
	statusBadGateway    = "502 Bad Gateway"
)

func writeStatus(w io.Writer, status string) {
	fmt.Fprintf(w, "HTTP/1.0 %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", status)
}

// handleConnection serves one client connection from start to finish:
// read request, try the cache, otherwise forward and capture.
func (s *Server) handleConnection(c net.Conn) {
	defer c.Close()

	if !s.trackCloser(c, true) {
		return
	}
	defer s.trackCloser(c, false)

	logger := s.opts.Logger

	c.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	br := bufio.NewReaderSize(c, pool.BufSize)
	req, err := httpmsg.ReadRequest(br)
	if err != nil {
		logger.Debug("failed to read request", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
		writeStatus(c, statusBadRequest)
		return
	}
	c.SetReadDeadline(time.Time{})

	key := req.Fingerprint()
	logger.Info("request received", zap.Stringer("client", c.RemoteAddr()), zap.String("key", key))

	if s.opts.Blocklist.Blocked(req.Host) {
		logger.Info("host blocked", zap.String("host", req.Host))
		writeStatus(c, statusForbidden)
		return
	}

	if payload, ok := s.opts.Cache.Get(key); ok {
		logger.Info("cache hit", zap.String("key", key), zap.Int("size", len(payload)))
		if _, err := c.Write(payload); err != nil {
			logger.Debug("failed to write cached response", zap.Error(err))
		}
		return
	}

	logger.Info("cache miss", zap.String("key", key))
	s.forward(c, req, key)
}

// forward relays the request to the origin and streams the response back
// to the client while capturing it for insertion.
func (s *Server) forward(c net.Conn, req *httpmsg.Request, key string) {
	logger := s.opts.Logger

	origin, err := s.opts.Connector.Connect(context.Background(), req.Host, req.Port)
	if err != nil {
		logger.Warn("origin unreachable", zap.String("key", key), zap.Error(err))
		writeStatus(c, statusBadGateway)
		return
	}
	defer origin.Close()

	if err := req.WriteProxyTo(origin); err != nil {
		logger.Warn("failed to send request to origin", zap.String("key", key), zap.Error(err))
		writeStatus(c, statusBadGateway)
		return
	}

	buf := pool.GetBuf()
	defer pool.ReleaseBuf(buf)

	// captured accumulates the full response for a post-stream insert.
	// Capture can die (response over the per-entry limit) while the
	// relay to the client continues unaffected.
	var captured []byte
	captureLive := true
	sentAny := false

	for {
		n, rerr := origin.Read(buf[:])
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				// Client is gone. Drop the capture: a partial relay
				// must never become a cache entry.
				logger.Debug("client write failed", zap.String("key", key), zap.Error(werr))
				return
			}
			sentAny = true

			if captureLive {
				captured, captureLive = appendCapture(captured, buf[:n], s.opts.Cache.MaxEntryBytes())
				if !captureLive {
					captured = nil
					logger.Debug("response capture dropped", zap.String("key", key))
				}
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				if captureLive && len(captured) > 0 {
					s.opts.Cache.Put(key, captured)
				}
				return
			}

			logger.Warn("origin read failed", zap.String("key", key), zap.Error(rerr))
			if !sentAny {
				writeStatus(c, statusBadGateway)
			}
			return
		}
	}
}

// appendCapture appends chunk to dst, doubling capacity on growth. It
// reports false when the capture exceeds max and must be abandoned.
func appendCapture(dst, chunk []byte, max int64) ([]byte, bool) {
	need := len(dst) + len(chunk)
	if int64(need) > max {
		return nil, false
	}

	if need > cap(dst) {
		grown := make([]byte, len(dst), need*2)
		copy(grown, dst)
		dst = grown
	}
	return append(dst, chunk...), true
}
