// Command proxycore is the headless entrypoint for the reverse proxy
// engine: it loads a TOML configuration, starts the listeners and admin
// API it describes, and keeps them reconciled against further
// save_config calls until told to stop, grounded on cmd/cobra.go's
// root-command-plus-subcommand shape and cmd/commandfuncs.go's
// exit-code-carrying CommandFunc convention.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/userfhy/SSLProxyManager-Tauri/internal"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/admin"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/cfgstore"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/observer"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/pool"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/supervisor"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/tlsmgr"
)

// exitError carries the embedding process's exit code per §6: 0 normal,
// 2 invalid configuration, 3 fatal supervisor error.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

const (
	exitOK            = 0
	exitInvalidConfig = 2
	exitFatal         = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.Err != nil {
				fmt.Fprintln(os.Stderr, ee.Err)
			}
			os.Exit(ee.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "proxycore",
		Short:         "Config-driven HTTP/WebSocket/TCP-UDP reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildVersion(),
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newReloadCmd())
	return root
}

func buildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return bi.Main.Version
}

func newLogger(debugMode bool) *zap.Logger {
	var cfg zap.Config
	if debugMode || os.Getenv("PROXYCORE_DEBUG") != "" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func newRunCmd() *cobra.Command {
	var configPath, adminAddr string
	var debugMode bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy in the foreground, reconciling listeners against the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(configPath, adminAddr, debugMode)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "proxycore.toml", "path to the TOML configuration document")
	cmd.Flags().StringVar(&adminAddr, "admin", "unix:/run/proxycore-admin.sock", "admin API bind address (unix:<path> or host:port)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "use console log encoding instead of JSON")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration document without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, warnings, err := cfgstore.Open(configPath)
			if err != nil {
				return &exitError{Code: exitInvalidConfig, Err: err}
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			cfg := store.Current()
			fmt.Printf("configuration is valid: max request body %s, max response body %s\n",
				humanize.IBytes(uint64(cfg.Limits.MaxRequestBody)),
				humanize.IBytes(uint64(cfg.Limits.MaxResponseBody)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "proxycore.toml", "path to the TOML configuration document")
	return cmd
}

func newReloadCmd() *cobra.Command {
	var configPath, adminAddr string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Push a configuration document to a running proxycore's admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reload(configPath, adminAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "proxycore.toml", "path to the TOML configuration document")
	cmd.Flags().StringVar(&adminAddr, "admin", "unix:/run/proxycore-admin.sock", "admin API bind address (unix:<path> or host:port)")
	return cmd
}

func runForeground(configPath, adminAddr string, debugMode bool) error {
	// Buffer bootstrap messages until the config is loaded and the real
	// logger's encoding (JSON vs console) is known, then replay them.
	bootBuffer := internal.NewLogBufferCore(zapcore.InfoLevel)
	bootLog := zap.New(bootBuffer)
	bootLog.Info("loading configuration", zap.String("path", configPath))

	store, warnings, err := cfgstore.Open(configPath)
	if err != nil {
		return &exitError{Code: exitInvalidConfig, Err: fmt.Errorf("loading %s: %w", configPath, err)}
	}
	for _, w := range warnings {
		bootLog.Warn("config warning", zap.String("detail", w))
	}

	log := newLogger(debugMode)
	defer log.Sync()
	bootBuffer.FlushTo(log)

	tlsManager, err := tlsmgr.New(log)
	if err != nil {
		return &exitError{Code: exitFatal, Err: err}
	}
	defer tlsManager.Close()

	cfg := store.Current()
	connPool := pool.New(pool.Config{
		ConnectTimeout: time.Duration(cfg.Limits.ConnectTimeoutMs) * time.Millisecond,
		IdleTimeout:    time.Duration(cfg.Limits.PoolIdleTimeoutS) * time.Second,
		MaxIdle:        cfg.Limits.PoolMaxIdle,
		EnableHTTP2:    cfg.Limits.EnableHTTP2,
	})

	accessCtl := access.New(cfg.Access).WithLogger(log)
	defer accessCtl.Close()

	reg := prometheus.NewRegistry()
	metrics := observer.NewMetrics(reg)
	logSink := observer.NewLogSink(0)
	obs := observer.New(metrics, logSink)
	defer obs.Close()

	sup := supervisor.New(log, tlsManager, connPool, accessCtl, obs)
	sup.Apply(cfg)

	configWatcher, err := watchConfigFile(store, sup, log)
	if err != nil {
		log.Warn("config file watch disabled", zap.Error(err))
	} else {
		defer configWatcher.Close()
	}

	adminSrv := admin.New(store, sup, accessCtl, obs, reg, logSink)
	adminListener, err := admin.Listen(adminAddr)
	if err != nil {
		return &exitError{Code: exitFatal, Err: fmt.Errorf("binding admin API on %s: %w", adminAddr, err)}
	}

	httpAdmin := &http.Server{Handler: adminSrv}
	go func() {
		if err := httpAdmin.Serve(adminListener); err != nil && err != http.ErrServerClosed {
			log.Error("admin API stopped", zap.Error(err))
		}
	}()
	log.Info("admin API listening", zap.String("addr", adminAddr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpAdmin.Shutdown(shutdownCtx)
	sup.Stop(10 * time.Second)
	return nil
}

func reload(configPath, adminAddr string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return &exitError{Code: exitInvalidConfig, Err: err}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := "http://admin/config"
	if dialer, ok := unixDialer(adminAddr); ok {
		client.Transport = &http.Transport{DialContext: dialer}
	} else {
		url = "http://" + adminAddr + "/config"
	}

	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return &exitError{Code: exitFatal, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &exitError{Code: exitFatal, Err: fmt.Errorf("contacting admin API: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &exitError{Code: exitInvalidConfig, Err: fmt.Errorf("admin API rejected config: %s", resp.Status)}
	}
	fmt.Println("reloaded")
	return nil
}

// watchConfigFile watches the config file's directory (rather than the
// file itself, so editors that save via rename-into-place still trigger
// a reload) and re-applies the file to sup whenever it changes, the
// file-backed half of the admin API's save_config hot-reload path.
func watchConfigFile(store *cfgstore.Store, sup *supervisor.Supervisor, log *zap.Logger) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path := store.Path()
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, warnings, err := store.Reload()
				if err != nil {
					log.Warn("config reload failed", zap.Error(err))
					continue
				}
				for _, wrn := range warnings {
					log.Warn("config warning", zap.String("detail", wrn))
				}
				log.Info("config reloaded from disk")
				sup.Apply(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return w, nil
}

func unixDialer(addr string) (func(ctx context.Context, network, address string) (net.Conn, error), bool) {
	const prefix = "unix:"
	if len(addr) <= len(prefix) || addr[:len(prefix)] != prefix {
		return nil, false
	}
	path := addr[len(prefix):]
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}, true
}
