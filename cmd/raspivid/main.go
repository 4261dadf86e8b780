package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/raspivid/component"
	"github.com/xaionaro-go/raspivid/graph"
	"github.com/xaionaro-go/raspivid/hw/emulator"
	"golang.org/x/sys/unix"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [--config <pipeline.yaml>]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "a YAML pipeline description; the built-in camera/splitter/encoder/resizer pipeline is used if empty")
	printConfig := pflag.Bool("print-config", false, "print the effective pipeline description and exit")
	statsInterval := pflag.Duration("stats-interval", 5*time.Second, "how often to print the port statistics; zero disables")
	frameCallbacks := pflag.Bool("frame-callbacks", true, "attach the frame copy and motion vector callbacks")
	frameEndpoint := pflag.String("frame-endpoint", "resizer", "the port to copy the luma plane from")
	motionEndpoint := pflag.String("motion-endpoint", "encoder."+component.PortNameOutput, "the port to read the motion vectors from")
	frameInterval := pflag.Duration("frame-interval", time.Second/30, "the interval between emulated sensor frames")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()
	if len(pflag.Args()) != 0 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := graph.DefaultConfig()
	if *configPath != "" {
		l.Debugf("loading the pipeline from '%s'...", *configPath)
		loaded, err := graph.LoadConfig(*configPath)
		if err != nil {
			l.Fatal(err)
		}
		cfg = *loaded
	}
	for idx := range cfg.Components {
		c := &cfg.Components[idx]
		if c.Type != graph.ComponentTypeCamera {
			continue
		}
		if c.Camera == nil {
			camCfg := component.DefaultCameraConfig()
			c.Camera = &camCfg
		}
		c.Camera.SettingsCallback = component.LogSettingsCallback
	}

	if *printConfig {
		b, err := cfg.Bytes()
		if err != nil {
			l.Fatal(err)
		}
		fmt.Printf("%s", b)
		return
	}

	platform := emulator.New(emulator.OptionFrameInterval(*frameInterval))
	g, err := graph.Build(ctx, platform, cfg)
	if err != nil {
		l.Fatalf("unable to build the pipeline: %v", err)
	}
	defer func() {
		if err := g.Close(ctx); err != nil {
			l.Errorf("unable to close the pipeline: %v", err)
		}
	}()

	if *frameCallbacks {
		framePort, err := g.Port(*frameEndpoint)
		if err != nil {
			l.Fatal(err)
		}
		if err := framePort.AddCallback(ctx, newFrameCallback(framePort.GetFormat())); err != nil {
			l.Fatalf("unable to add the frame callback to %s: %v", framePort, err)
		}
		if err := g.AddCallback(ctx, *motionEndpoint, motionVectorCallback{}); err != nil {
			l.Fatalf("unable to add the motion vector callback to '%s': %v", *motionEndpoint, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	l.Infof("starting the capture, press Ctrl-C to exit...")
	if err := g.Start(ctx); err != nil {
		l.Fatalf("unable to start the capture: %v", err)
	}

	var statsC <-chan time.Time
	if *statsInterval > 0 {
		t := time.NewTicker(*statsInterval)
		defer t.Stop()
		statsC = t.C
	}
	for {
		select {
		case sig := <-sigCh:
			l.Infof("received %v, exiting...", sig)
			if err := g.Stop(ctx); err != nil {
				l.Errorf("unable to stop the capture: %v", err)
			}
			return
		case <-statsC:
			printStatistics(g)
		}
	}
}

func printStatistics(g *graph.Graph) {
	stats := g.Statistics()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		fmt.Printf(
			"%-24s delivered:%s (%s) sent:%s (%s) relayed:%s resubmitted:%s starved:%s\n",
			name,
			humanize.Comma(int64(s.Delivered.Count)), humanize.IBytes(s.Delivered.Bytes),
			humanize.Comma(int64(s.Sent.Count)), humanize.IBytes(s.Sent.Bytes),
			humanize.Comma(int64(s.Relayed.Count)),
			humanize.Comma(int64(s.Resubmitted)),
			humanize.Comma(int64(s.Starved)),
		)
	}
}
