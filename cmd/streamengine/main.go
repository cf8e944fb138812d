// Command streamengine runs the streaming audio pipeline and gapless
// playback engine as a standalone process, driven entirely over its
// control surface (spec.md §4.I, §6): no TUI, no station browser, no
// persisted library — those are front-end concerns outside this
// module's scope.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/glebovdev/streamcore/internal/cache"
	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/control"
	"github.com/glebovdev/streamcore/internal/engine"
	"github.com/glebovdev/streamcore/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	exitClean         = 0
	exitDeviceError   = 1
	exitBadConfig     = 2
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	addrFlag    = flag.String("listen", "", "Control surface address (overrides config, e.g. tcp://[::1]:50101)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(exitClean)
	}

	cacheDir, _ := cache.GetCacheDir()
	logPath := filepath.Join(cacheDir, "engine-debug.log")
	if err := logging.Init(*debugFlag, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging setup failed: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("streamengine: using default configuration")
	}
	if *addrFlag != "" {
		cfg.ControlSurfaceAddr = *addrFlag
	}

	c, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("streamengine: probe cache unavailable")
		c = nil
	}

	eng := engine.NewEngine(cfg, c)
	defer eng.Close()

	srv, err := control.Listen(cfg.ControlSurfaceAddr, eng)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.ControlSurfaceAddr).Msg("streamengine: failed to start control surface")
		os.Exit(exitBadConfig)
	}
	defer srv.Close()

	log.Info().Str("addr", srv.Addr().String()).Msg("streamengine: control surface listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-sigChan:
		log.Info().Msg("streamengine: received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("streamengine: control surface stopped unexpectedly")
			os.Exit(exitDeviceError)
		}
	}

	os.Exit(exitClean)
}
