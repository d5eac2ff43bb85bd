package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"oidcpair/config"
	"oidcpair/idp"
	"oidcpair/rp"
)

func main() {
	configPath := flag.String("config", os.Getenv("OIDCPAIR_CONFIG"), "Path to YAML config")
	validateOnly := flag.Bool("validate", false, "Validate the configuration and exit")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.StringVar(logLevel, "l", "info", "Alias for -log-level")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *validateOnly {
		logger.Info("configuration is valid", "path", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runIDP := cfg.Role == config.RoleIDP || cfg.Role == config.RoleBoth
	runRP := cfg.Role == config.RoleRP || cfg.Role == config.RoleBoth

	var idpHandler, rpHandler http.Handler
	if runIDP {
		app, err := idp.NewApp(cfg, logger)
		if err != nil {
			log.Fatalf("init idp: %v", err)
		}
		defer app.Store.Close()
		idpHandler = app.Routes()
	}
	if runRP {
		rpHandler = rp.NewApp(cfg, nil, logger).Routes()
	}

	var shutdownFns []func(context.Context) error
	if cfg.Server.DevMode {
		if runIDP {
			shutdownFns = append(shutdownFns, serveHTTP(cfg.Server.IDPListenAddr, "idp", idpHandler, logger))
		}
		if runRP {
			shutdownFns = append(shutdownFns, serveHTTP(cfg.Server.RPListenAddr, "rp", rpHandler, logger))
		}
	} else {
		fns, err := serveTLS(cfg, idpHandler, rpHandler, logger)
		if err != nil {
			log.Fatalf("start tls listeners: %v", err)
		}
		shutdownFns = fns
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		if err := fn(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}
}

func serveHTTP(addr, role string, handler http.Handler, logger *slog.Logger) func(context.Context) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	logger.Info("server listening", "mode", "dev", "role", role, "addr", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "role", role, "error", err)
		}
	}()
	return srv.Shutdown
}

// serveTLS runs the production listeners: an HTTP listener for the ACME
// challenge plus the HTTPS redirect, and the HTTPS listener routing by host.
func serveTLS(cfg config.Config, idpHandler, rpHandler http.Handler, logger *slog.Logger) ([]func(context.Context) error, error) {
	handler, err := hostRouter(cfg, idpHandler, rpHandler)
	if err != nil {
		return nil, err
	}

	m := &autocert.Manager{
		Cache:      autocert.DirCache(filepath.Join(cfg.Server.SecretsPath, "tls")),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
		Email:      cfg.Server.TLS.Email,
	}

	httpRedirect := &http.Server{
		Addr:    cfg.Server.HTTPListenAddr,
		Handler: m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
	}
	go func() {
		if err := httpRedirect.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http redirect error", "error", err)
		}
	}()

	httpsSrv := &http.Server{
		Addr:    cfg.Server.HTTPSListenAddr,
		Handler: handler,
		TLSConfig: &tls.Config{
			GetCertificate: m.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		},
	}
	logger.Info("server listening", "mode", "prod", "addr", cfg.Server.HTTPSListenAddr, "domains", cfg.Server.TLS.Domains)
	go func() {
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logger.Error("https server error", "error", err)
		}
	}()

	return []func(context.Context) error{httpRedirect.Shutdown, httpsSrv.Shutdown}, nil
}

// hostRouter maps TLS domains to role handlers. A single role claims every
// domain; running both roles requires one domain per role, in order.
func hostRouter(cfg config.Config, idpHandler, rpHandler http.Handler) (http.Handler, error) {
	domains := cfg.Server.TLS.Domains

	if idpHandler == nil {
		return rpHandler, nil
	}
	if rpHandler == nil {
		return idpHandler, nil
	}
	if len(domains) < 2 {
		return nil, fmt.Errorf("role %q in production needs two TLS domains (idp, rp), got %d", cfg.Role, len(domains))
	}

	hosts := map[string]http.Handler{
		domains[0]: idpHandler,
		domains[1]: rpHandler,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if handler, ok := hosts[host]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unknown host", http.StatusNotFound)
	}), nil
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}
