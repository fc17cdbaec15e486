package coremain

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/skaris/proxyd/mlog"
	"github.com/skaris/proxyd/pkg/access"
	"github.com/skaris/proxyd/pkg/cache"
	"github.com/skaris/proxyd/pkg/safe_close"
	"github.com/skaris/proxyd/pkg/server"
	"github.com/skaris/proxyd/pkg/upstream"
)

type Proxyd struct {
	cfg    *Config
	logger *zap.Logger

	cache     *cache.Cache
	blocklist *access.Blocklist
	connector *upstream.Connector
	server    *server.Server

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

func RunProxyd(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetLogger(lg)

	c, err := cache.New(cfg.Cache, lg)
	if err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}

	var bl *access.Blocklist
	if len(cfg.Blocklist.File) > 0 {
		bl, err = access.Load(cfg.Blocklist.File, lg)
		if err != nil {
			return fmt.Errorf("failed to load blocklist: %w", err)
		}
	}

	connector := upstream.NewConnector(upstream.Opts{
		DialTimeout: time.Duration(cfg.Upstream.DialTimeout) * time.Second,
		ResolveTTL:  time.Duration(cfg.Upstream.ResolveTTL) * time.Second,
		Logger:      lg,
	})

	srv, err := server.NewServer(server.Opts{
		Logger:    lg,
		Cache:     c,
		Connector: connector,
		Blocklist: bl,
	})
	if err != nil {
		return fmt.Errorf("failed to init server: %w", err)
	}

	p := &Proxyd{
		cfg:        cfg,
		logger:     lg,
		cache:      c,
		blocklist:  bl,
		connector:  connector,
		server:     srv,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	p.metricsReg.MustRegister(c.Collectors()...)
	p.metricsReg.MustRegister(connector.Collectors()...)
	p.initAPIMux()

	if err := p.startProxyServer(); err != nil {
		return err
	}
	p.startAPIServer()
	p.handleSignals()

	<-p.sc.ReceiveCloseSignal()
	p.sc.Done()
	p.sc.CloseWait()

	if bl != nil {
		bl.Close()
	}
	c.Close()
	return p.sc.Err()
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func (p *Proxyd) initAPIMux() {
	p.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(p.metricsReg, promhttp.HandlerOpts{}))
	p.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	p.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	p.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	p.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	p.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	p.httpAPIMux.HandleFunc("/api/cache", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.cache.Stats())
	})
	p.httpAPIMux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		b, err := yaml.Marshal(p.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(b)
	})
}

func (p *Proxyd) startProxyServer() error {
	l, err := net.Listen("tcp", p.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.Listen, err)
	}
	if p.cfg.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l}
	}

	p.logger.Info("proxy server started", zap.String("addr", p.cfg.Listen))
	p.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- p.server.ServeTCP(l)
		}()
		select {
		case err := <-errChan:
			p.sc.SendCloseSignal(err)
		case <-closeSignal:
			p.server.Close()
		}
	})
	return nil
}

func (p *Proxyd) startAPIServer() {
	httpAddr := p.cfg.API.HTTP
	if len(httpAddr) == 0 {
		return
	}

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: p.httpAPIMux,
	}
	p.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			p.logger.Info("starting api http server", zap.String("addr", httpAddr))
			errChan <- httpServer.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			p.sc.SendCloseSignal(err)
		case <-closeSignal:
			httpServer.Close()
		}
	})
}

// handleSignals turns SIGINT and SIGTERM into an orderly shutdown.
func (p *Proxyd) handleSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	p.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		select {
		case s := <-sig:
			p.logger.Info("signal received, exiting", zap.Stringer("signal", s))
			p.sc.SendCloseSignal(nil)
		case <-closeSignal:
		}
	})
}
