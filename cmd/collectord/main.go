// Collectord is the upload receiver for pocketmic devices. It accepts WAV
// bodies on POST /audio/upload, stores them on disk and indexes them in a
// sqlite database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/large-farva/pocketmic/internal/collector"
	"github.com/large-farva/pocketmic/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (only [collector] and [logging] are used)")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides [collector] bind)")
		dir        = pflag.String("dir", "", "Upload directory (overrides [collector] dir)")
	)
	pflag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	cc := cfg.Collector
	if *bind != "" {
		cc.Bind = *bind
	}
	if *dir != "" {
		cc.Dir = *dir
	}

	if err := os.MkdirAll(cc.Dir, 0o755); err != nil {
		logger.WithError(err).Fatal("create upload dir")
	}
	store, err := collector.OpenStore(cc.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("open index")
	}
	defer store.Close()

	srv := collector.NewServer(cc.Dir, store, int64(cc.MaxUploadMB)<<20, logger)
	if n, err := srv.Reindex(); err != nil {
		logger.WithError(err).Warn("reindex failed")
	} else if n > 0 {
		logger.WithField("count", n).Info("indexed recordings found on disk")
	}

	httpSrv := &http.Server{
		Addr:              cc.Bind,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{
		"bind": cc.Bind,
		"dir":  cc.Dir,
		"db":   cc.DBPath,
	}).Info("collector listening on " + collector.UploadPath)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("collectord failed")
	}
}
