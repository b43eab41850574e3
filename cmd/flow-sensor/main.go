// Command flow-sensor counts pulses from a hall-effect flow meter on a GPIO
// line, tracks dispensed volume, and publishes pour statistics to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sweeney/flow-sensor/internal/config"
	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
	"github.com/sweeney/flow-sensor/internal/metrics"
	"github.com/sweeney/flow-sensor/internal/mqtt"
	"github.com/sweeney/flow-sensor/internal/status"
	"github.com/sweeney/flow-sensor/internal/store"
	"github.com/sweeney/flow-sensor/internal/web"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// options are command-line switches that are not part of config.Config.
type options struct {
	printState  bool
	showVersion bool
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("fatal: %v", err)
	}
	if opts.showVersion {
		fmt.Println(version)
		return
	}
	if opts.printState {
		if err := printState(os.Stdout, cfg.StateFile); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags resolves the configuration: built-in defaults, then the YAML
// file named by -config, then any flags set explicitly on the command line.
func parseFlags(args []string) (config.Config, options, error) {
	var opts options
	fl := config.Default()

	fs := flag.NewFlagSet("flow-sensor", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file (flags override file values)")
	fs.StringVar(&fl.Chip, "chip", fl.Chip, "GPIO chip name")
	fs.IntVar(&fl.Pin, "pin", fl.Pin, "BCM pin number of the flow meter signal line")
	fs.DurationVar(&fl.Debounce, "debounce", fl.Debounce, "Kernel edge debounce period (0 to disable)")
	fs.StringVar(&fl.Meter, "meter", fl.Meter, "Flow meter model (fl-s401a, gr-r401, gr-301, ux0151)")
	fs.Float64Var(&fl.FlowConstant, "flow-constant", fl.FlowConstant, "Pulses per second per L/min (overrides -meter)")
	fs.DurationVar(&fl.DeltaThreshold, "delta-threshold", fl.DeltaThreshold, "Pulse gap that starts a new pour")
	fs.StringVar(&fl.Keg, "keg", fl.Keg, "Keg type (corny, sixtel, quarter, half-barrel)")
	fs.StringVar(&fl.Contents, "contents", fl.Contents, "Keg contents label")
	fs.Float64Var(&fl.InitialVolume, "initial-volume", fl.InitialVolume, "Liters in a fresh keg (overrides -keg volume)")
	fs.StringVar(&fl.StateFile, "state-file", fl.StateFile, "Path of the persisted accumulator state")
	fs.DurationVar(&fl.SaveInterval, "save-interval", fl.SaveInterval, "Interval between state file saves")
	fs.DurationVar(&fl.Poll, "poll", fl.Poll, "Status refresh and stats publish interval")
	fs.StringVar(&fl.Broker, "broker", fl.Broker, "MQTT broker address")
	fs.DurationVar(&fl.Heartbeat, "heartbeat", fl.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&fl.HTTPAddr, "http", fl.HTTPAddr, "HTTP status address (empty to disable)")
	fs.BoolVar(&opts.printState, "print-state", false, "Print the persisted state and statistics and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}
	if opts.showVersion {
		return fl, opts, nil
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return config.Config{}, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "chip":
			cfg.Chip = fl.Chip
		case "pin":
			cfg.Pin = fl.Pin
		case "debounce":
			cfg.Debounce = fl.Debounce
		case "meter":
			cfg.Meter = fl.Meter
		case "flow-constant":
			cfg.FlowConstant = fl.FlowConstant
		case "delta-threshold":
			cfg.DeltaThreshold = fl.DeltaThreshold
		case "keg":
			cfg.Keg = fl.Keg
		case "contents":
			cfg.Contents = fl.Contents
		case "initial-volume":
			cfg.InitialVolume = fl.InitialVolume
		case "state-file":
			cfg.StateFile = fl.StateFile
		case "save-interval":
			cfg.SaveInterval = fl.SaveInterval
		case "poll":
			cfg.Poll = fl.Poll
		case "broker":
			cfg.Broker = fl.Broker
		case "heartbeat":
			cfg.Heartbeat = fl.Heartbeat
		case "http":
			cfg.HTTPAddr = fl.HTTPAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, opts, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, opts, nil
}

// loadState reads the persisted snapshot. A missing file yields a fresh state
// holding the configured keg volume; any other failure is returned.
func loadState(cfg config.Config) (flow.State, error) {
	s, err := store.Load(cfg.StateFile)
	if store.IsNotExist(err) {
		log.Printf("state: %s not found, starting fresh with %.2f L", cfg.StateFile, cfg.InitialRemaining())
		return flow.State{RemainingVolume: cfg.InitialRemaining()}, nil
	}
	if err != nil {
		return flow.State{}, err
	}
	log.Printf("state: loaded %s (%d pulses, %.3f L remaining)", cfg.StateFile, s.TotalEvents, s.RemainingVolume)
	return s, nil
}

// printState writes the persisted snapshot and its derived statistics to w.
func printState(w io.Writer, path string) error {
	s, err := store.Load(path)
	if err != nil {
		return err
	}
	if err := store.Encode(w, s); err != nil {
		return err
	}
	st := flow.StatsOf(s)
	fmt.Fprintf(w, "avgFreq=%.3fHz avgFlow=%.5fL/s avgPour=%.3fL totalPour=%.3fL totalPourTime=%.1fs totalPourEvents=%d\n",
		st.AvgFrequency, st.AvgFlowRate, st.AvgPour, st.TotalPour, st.TotalPourTime, st.TotalPourEvents)
	return nil
}

func run(cfg config.Config) error {
	initial, err := loadState(cfg)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	clock := flow.SystemClock{}
	acc, err := flow.New(cfg.FlowConfig(initial.FlowConstant), initial, clock)
	if err != nil {
		return fmt.Errorf("init accumulator: %w", err)
	}
	fc := acc.Config()

	// Initialize GPIO
	watcher, err := gpio.NewRealWatcher(cfg.Chip, cfg.Pin, cfg.Debounce, clock)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer watcher.Close()

	m := metrics.New(acc, watcher, metrics.Labels{
		Pin:      strconv.Itoa(cfg.Pin),
		Type:     cfg.KegType(),
		Contents: cfg.Contents,
	})

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(cfg.Broker, clientID(cfg.Pin), cfg.Pin)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Pin:              cfg.Pin,
		Meter:            cfg.Meter,
		FlowConstant:     fc.FlowConstant,
		DeltaThresholdMs: fc.DeltaThreshold.Milliseconds(),
		DebounceMs:       cfg.Debounce.Milliseconds(),
		PollMs:           cfg.Poll.Milliseconds(),
		SaveIntervalMs:   cfg.SaveInterval.Milliseconds(),
		HeartbeatMs:      cfg.Heartbeat.Milliseconds(),
		Keg:              cfg.Keg,
		Contents:         cfg.Contents,
		StateFile:        cfg.StateFile,
		Broker:           cfg.Broker,
		HTTPAddr:         cfg.HTTPAddr,
	})
	tracker.UpdateFlow(acc.Snapshot(), time.Time{}, 0)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	logSystemPublish("startup", publisher, publisher.PublishSystem(startupEvent))

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, acc, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: pin=%d K=%v threshold=%v keg=%s remaining=%.3fL broker=%s heartbeat=%v",
		cfg.Pin, fc.FlowConstant, fc.DeltaThreshold, cfg.KegType(), initial.RemainingVolume, cfg.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		watcher:      watcher,
		acc:          acc,
		publisher:    publisher,
		mqttStatus:   publisher,
		tracker:      tracker,
		metrics:      m,
		save:         func(s flow.State) error { return store.Save(cfg.StateFile, s) },
		pin:          cfg.Pin,
		contents:     cfg.Contents,
		saveInterval: cfg.SaveInterval,
		heartbeat:    cfg.Heartbeat,
		now:          time.Now,
	}
	return l.run(ticker.C, sigCh)
}

func clientID(pin int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("flow-sensor-%s-%d", host, pin)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
