// Pocketmicd is the recorder daemon for a push-to-talk audio capture device.
//
// It loads configuration, starts the HTTP/WebSocket control server, and runs
// the capture, conditioning and upload pipeline. Shutdown is handled
// gracefully on SIGINT or SIGTERM.
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

	"github.com/large-farva/pocketmic/internal/app"
	"github.com/large-farva/pocketmic/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/pocketmic/pocketmic.toml", "Path to config TOML (empty for defaults)")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides [server] bind)")
		demo       = pflag.Bool("demo", false, "Press the button periodically from the demo runner")
	)
	pflag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	if *demo {
		cfg.Demo.Enabled = true
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("pocketmicd failed")
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
