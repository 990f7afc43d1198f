package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoDVBS2/internal/app"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/logging"
	"github.com/rjboer/GoDVBS2/internal/mdns"
	"github.com/rjboer/GoDVBS2/internal/sdr"
	"github.com/rjboer/GoDVBS2/internal/telemetry"
)

const envPrefix = "DVBS2_"

func main() {
	configPath := envString(os.LookupEnv, envPrefix+"CONFIG", "dvbs2rx.yaml")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(2)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log level: %v\n", err)
		os.Exit(2)
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log format: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(level, format, os.Stderr)
	logging.SetDefault(logger)

	if err := saveConfig(configPath, cfg); err != nil {
		logger.Error("save config", logging.F("error", err), logging.F("path", configPath))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("receiver stopped", logging.F("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg persistentConfig, logger logging.Logger) error {
	backend, err := selectBackend(cfg)
	if err != nil {
		return fmt.Errorf("select backend: %w", err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reporters := telemetry.MultiReporter{
		telemetry.NewMetrics(reg),
		telemetry.NewStdoutReporter(logger, cfg.LogEvery),
	}

	var hub *telemetry.Hub
	if cfg.WebAddr != "" {
		hub = telemetry.NewHub(cfg.HistoryLimit, logger)
		reporters = append(reporters, hub)
		web := telemetry.NewWebServer(cfg.WebAddr, hub, reg, logger)
		go func() {
			if err := web.Start(ctx); err != nil {
				logger.Error("web server stopped", logging.F("error", err))
			}
		}()
		logger.Info("web interface", logging.F("addr", cfg.WebAddr))
	}

	receiver := app.NewReceiver(backend, reporters, logger, receiverConfig(cfg))
	if hub != nil {
		receiver.SetSpectrumSink(hub)
	}
	if err := receiver.Init(ctx); err != nil {
		return fmt.Errorf("init receiver: %w", err)
	}

	if cfg.MDNS && cfg.WebAddr != "" {
		port, err := listenPort(cfg.WebAddr)
		if err != nil {
			return err
		}
		txt := []string{"run_id=" + receiver.RunID(), "modcod=" + cfg.ModCod}
		if err := mdns.Announce(ctx, "dvbs2rx "+receiver.RunID()[:8], port, txt); err != nil {
			logger.Warn("mDNS announce failed", logging.F("error", err))
		}
	}

	if cfg.SDRBackend == "mock" {
		tx, err := app.NewTransmitter(backend, logger, app.TransmitterConfig{
			ModCod:     cfg.ModCod,
			OSF:        cfg.OSF,
			Rolloff:    cfg.Rolloff,
			FilterSpan: cfg.FilterSpan,
			Seed:       cfg.Seed,
		})
		if err != nil {
			return err
		}
		txCtx, stopTX := context.WithCancel(ctx)
		defer stopTX()
		go func() {
			if err := tx.Run(txCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("transmitter stopped", logging.F("error", err))
			}
		}()
	}

	logger.Info("starting receiver (Ctrl+C to stop)", logging.F("run_id", receiver.RunID()))
	if err := receiver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run receiver: %w", err)
	}
	return nil
}

type persistentConfig struct {
	ModCod     string  `yaml:"modcod"`
	OSF        int     `yaml:"osf"`
	Rolloff    float64 `yaml:"rolloff"`
	FilterSpan int     `yaml:"filter_span"`

	SDRBackend    string  `yaml:"sdr_backend"`
	SampleRate    float64 `yaml:"sample_rate"`
	NumSamples    int     `yaml:"num_samples"`
	CarrierOffset float64 `yaml:"carrier_offset"`
	TimingOffset  float64 `yaml:"timing_offset"`
	ClockDrift    float64 `yaml:"clock_drift"`
	NoiseStd      float64 `yaml:"noise_std"`
	Seed          int64   `yaml:"seed"`

	TimingKind       string   `yaml:"timing"`
	FrameKind        string   `yaml:"frame"`
	CoarseKind       string   `yaml:"coarse"`
	FineKinds        []string `yaml:"fine"`
	TimingBandwidth  float64  `yaml:"timing_bandwidth"`
	CoarseBandwidth1 float64  `yaml:"coarse_bandwidth1"`
	CoarseBandwidth2 float64  `yaml:"coarse_bandwidth2"`
	WaitFrames       int      `yaml:"wait_frames"`
	LearnFrames1     int      `yaml:"learn_frames1"`
	LearnFrames2     int      `yaml:"learn_frames2"`
	LearnFrames3     int      `yaml:"learn_frames3"`
	Frames           int      `yaml:"frames"`
	SkipAcquisition  bool     `yaml:"skip_acquisition"`

	WebAddr      string `yaml:"web_addr"`
	HistoryLimit int    `yaml:"history_limit"`
	MDNS         bool   `yaml:"mdns"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	LogEvery     int    `yaml:"log_every"`
}

func defaultPersistentConfig() persistentConfig {
	def := app.DefaultConfig()
	return persistentConfig{
		ModCod:           def.ModCod,
		OSF:              def.OSF,
		Rolloff:          def.Rolloff,
		FilterSpan:       def.FilterSpan,
		SDRBackend:       "mock",
		SampleRate:       2e6,
		NumSamples:       1 << 13,
		CarrierOffset:    500,
		TimingOffset:     3.3,
		NoiseStd:         0.01,
		Seed:             1,
		TimingKind:       def.TimingKind,
		FrameKind:        def.FrameKind,
		CoarseKind:       def.CoarseKind,
		FineKinds:        def.FineKinds,
		TimingBandwidth:  def.TimingBandwidth,
		CoarseBandwidth1: def.CoarseBandwidth1,
		CoarseBandwidth2: def.CoarseBandwidth2,
		WaitFrames:       def.WaitFrames,
		LearnFrames1:     def.LearnFrames1,
		LearnFrames2:     def.LearnFrames2,
		LearnFrames3:     def.LearnFrames3,
		WebAddr:          ":8080",
		HistoryLimit:     500,
		LogLevel:         "info",
		LogFormat:        "text",
		LogEvery:         50,
	}
}

// parseConfig layers flags over DVBS2_* environment variables over the
// persisted defaults.
func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (persistentConfig, error) {
	cfg := persistentConfig{}
	env := func(name string) string { return envPrefix + name }

	fs := pflag.NewFlagSet("dvbs2rx", pflag.ContinueOnError)
	fs.StringVar(&cfg.ModCod, "modcod", envString(lookup, env("MODCOD"), defaults.ModCod), "MODCOD ("+strings.Join(dvbs2.ModCods(), "|")+")")
	fs.IntVar(&cfg.OSF, "osf", envInt(lookup, env("OSF"), defaults.OSF), "Samples per symbol")
	fs.Float64Var(&cfg.Rolloff, "rolloff", envFloat(lookup, env("ROLLOFF"), defaults.Rolloff), "Root raised cosine rolloff")
	fs.IntVar(&cfg.FilterSpan, "filter-span", envInt(lookup, env("FILTER_SPAN"), defaults.FilterSpan), "Shaping filter half length in symbols")

	fs.StringVar(&cfg.SDRBackend, "sdr-backend", envString(lookup, env("SDR_BACKEND"), defaults.SDRBackend), "SDR backend (mock)")
	fs.Float64Var(&cfg.SampleRate, "sample-rate", envFloat(lookup, env("SAMPLE_RATE"), defaults.SampleRate), "Sample rate in Hz")
	fs.IntVar(&cfg.NumSamples, "num-samples", envInt(lookup, env("NUM_SAMPLES"), defaults.NumSamples), "Samples per RX call")
	fs.Float64Var(&cfg.CarrierOffset, "cfo", envFloat(lookup, env("CFO"), defaults.CarrierOffset), "Mock channel carrier offset in Hz")
	fs.Float64Var(&cfg.TimingOffset, "timing-offset", envFloat(lookup, env("TIMING_OFFSET"), defaults.TimingOffset), "Mock channel delay in samples")
	fs.Float64Var(&cfg.ClockDrift, "clock-drift", envFloat(lookup, env("CLOCK_DRIFT"), defaults.ClockDrift), "Mock channel sample clock drift")
	fs.Float64Var(&cfg.NoiseStd, "noise", envFloat(lookup, env("NOISE"), defaults.NoiseStd), "Mock channel noise standard deviation per component")
	fs.Int64Var(&cfg.Seed, "seed", envInt64(lookup, env("SEED"), defaults.Seed), "Payload and noise seed")

	fs.StringVar(&cfg.TimingKind, "timing", envString(lookup, env("TIMING"), defaults.TimingKind), "Timing synchronizer (gardner|perfect)")
	fs.StringVar(&cfg.FrameKind, "frame", envString(lookup, env("FRAME"), defaults.FrameKind), "Frame synchronizer (aib|fast|perfect)")
	fs.StringVar(&cfg.CoarseKind, "coarse", envString(lookup, env("COARSE"), defaults.CoarseKind), "Coarse frequency synchronizer (pilot|perfect)")
	fs.StringSliceVar(&cfg.FineKinds, "fine", envList(lookup, env("FINE"), defaults.FineKinds), "Fine synchronizers in order (lr,pf,perfect)")
	fs.Float64Var(&cfg.TimingBandwidth, "timing-bandwidth", envFloat(lookup, env("TIMING_BANDWIDTH"), defaults.TimingBandwidth), "Gardner loop normalized bandwidth")
	fs.Float64Var(&cfg.CoarseBandwidth1, "coarse-bandwidth1", envFloat(lookup, env("COARSE_BANDWIDTH1"), defaults.CoarseBandwidth1), "Coarse PLL bandwidth of learning phase 1")
	fs.Float64Var(&cfg.CoarseBandwidth2, "coarse-bandwidth2", envFloat(lookup, env("COARSE_BANDWIDTH2"), defaults.CoarseBandwidth2), "Coarse PLL bandwidth of learning phase 2")
	fs.IntVar(&cfg.WaitFrames, "wait-frames", envInt(lookup, env("WAIT_FRAMES"), defaults.WaitFrames), "Frames per waiting attempt")
	fs.IntVar(&cfg.LearnFrames1, "learn-frames1", envInt(lookup, env("LEARN_FRAMES1"), defaults.LearnFrames1), "Frames of learning phase 1")
	fs.IntVar(&cfg.LearnFrames2, "learn-frames2", envInt(lookup, env("LEARN_FRAMES2"), defaults.LearnFrames2), "Frames of learning phase 2")
	fs.IntVar(&cfg.LearnFrames3, "learn-frames3", envInt(lookup, env("LEARN_FRAMES3"), defaults.LearnFrames3), "Frames of learning phase 3")
	fs.IntVar(&cfg.Frames, "frames", envInt(lookup, env("FRAMES"), defaults.Frames), "Tracked frames before exiting, 0 runs forever")
	fs.BoolVar(&cfg.SkipAcquisition, "skip-acquisition", envBool(lookup, env("SKIP_ACQUISITION"), defaults.SkipAcquisition), "Start tracking without waiting and learning phases")

	fs.StringVar(&cfg.WebAddr, "web-addr", envString(lookup, env("WEB_ADDR"), defaults.WebAddr), "Web telemetry listen address, empty disables it")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", envInt(lookup, env("HISTORY_LIMIT"), defaults.HistoryLimit), "Telemetry samples kept in history")
	fs.BoolVar(&cfg.MDNS, "mdns", envBool(lookup, env("MDNS"), defaults.MDNS), "Announce the web interface over mDNS")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(lookup, env("LOG_LEVEL"), defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(lookup, env("LOG_FORMAT"), defaults.LogFormat), "Log format (text|json|logfmt)")
	fs.IntVar(&cfg.LogEvery, "log-every", envInt(lookup, env("LOG_EVERY"), defaults.LogEvery), "Log every n-th locked frame")

	if err := fs.Parse(args); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func receiverConfig(cfg persistentConfig) app.Config {
	return app.Config{
		ModCod:     cfg.ModCod,
		OSF:        cfg.OSF,
		Rolloff:    cfg.Rolloff,
		FilterSpan: cfg.FilterSpan,
		Radio: sdr.Config{
			SampleRate:    cfg.SampleRate,
			NumSamples:    cfg.NumSamples,
			CarrierOffset: cfg.CarrierOffset,
			TimingOffset:  cfg.TimingOffset,
			ClockDrift:    cfg.ClockDrift,
			NoiseStd:      cfg.NoiseStd,
			Seed:          cfg.Seed,
		},
		TimingKind:       cfg.TimingKind,
		FrameKind:        cfg.FrameKind,
		CoarseKind:       cfg.CoarseKind,
		FineKinds:        cfg.FineKinds,
		TimingBandwidth:  cfg.TimingBandwidth,
		CoarseBandwidth1: cfg.CoarseBandwidth1,
		CoarseBandwidth2: cfg.CoarseBandwidth2,
		WaitFrames:       cfg.WaitFrames,
		LearnFrames1:     cfg.LearnFrames1,
		LearnFrames2:     cfg.LearnFrames2,
		LearnFrames3:     cfg.LearnFrames3,
		Frames:           cfg.Frames,
		SkipAcquisition:  cfg.SkipAcquisition,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}

	cfg := defaultPersistentConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envInt64(lookup func(string) (string, bool), key string, def int64) int64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envList(lookup func(string) (string, bool), key string, def []string) []string {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func selectBackend(cfg persistentConfig) (sdr.SDR, error) {
	switch cfg.SDRBackend {
	case "mock":
		return sdr.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown backend %s", cfg.SDRBackend)
	}
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("web addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("web addr %q: %w", addr, err)
	}
	return port, nil
}
