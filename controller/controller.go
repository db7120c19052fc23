package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/bigjimnolan/softrains/adapterservice"
	"github.com/bigjimnolan/softrains/mqttservice"
	"github.com/bigjimnolan/softrains/statequeue"
	"github.com/bigjimnolan/softrains/statestore"
	"github.com/bigjimnolan/softrains/uiservice"
)

// loadConfig reads the configuration file. .yaml and .yml files are YAML,
// anything else JSON; both use the JSON field names.
func loadConfig(path string) (*SoftRainsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("convert %s: %w", path, err)
		}
	}

	var softRainsConfig SoftRainsConfig
	if err := json.Unmarshal(data, &softRainsConfig); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &softRainsConfig, nil
}

// applyEnv overlays SOFTRAINS_* environment variables onto cfg.
func applyEnv(cfg *SoftRainsConfig) {
	if v := os.Getenv("SOFTRAINS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SOFTRAINS_STORE_DATA_DIR"); v != "" {
		cfg.StoreDataDir = v
	}
	if v := os.Getenv("SOFTRAINS_STATE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StateQueue.TimeoutMs = n
		} else {
			log.Warn().Msgf("ignoring SOFTRAINS_STATE_TIMEOUT_MS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("SOFTRAINS_STATE_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StateQueue.PollIntervalMs = &n
		} else {
			log.Warn().Msgf("ignoring SOFTRAINS_STATE_POLL_INTERVAL_MS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("SOFTRAINS_SERIALIZED_TARGETS"); v != "" {
		cfg.StateQueue.SerializedTargets = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.StateQueue.SerializedTargets = append(cfg.StateQueue.SerializedTargets, p)
			}
		}
	}
}

func buildSoftRains() (*SoftRainsConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msgf("could not load .env: %v", err)
	}

	path := os.Getenv("SOFTRAINS_CONFIG_FILE")
	if path == "" {
		return nil, errors.New("SOFTRAINS_CONFIG_FILE is not set")
	}
	softRainsConfig, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	applyEnv(softRainsConfig)
	return softRainsConfig, nil
}

func processorConfig(cfg StateQueueConfig) statequeue.Config {
	pc := statequeue.DefaultConfig()
	pc.Name = processorName(cfg)
	pc.Debug = cfg.Debug
	if cfg.TimeoutMs > 0 {
		pc.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if cfg.PollIntervalMs != nil {
		pc.PollInterval = time.Duration(*cfg.PollIntervalMs) * time.Millisecond
	}
	return pc
}

// processorName is the configured name, else the first serialized pattern
// without its wildcards: "**hm-rpc.**" becomes "hm-rpc".
func processorName(cfg StateQueueConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	pattern := statequeue.DefaultSerializedPattern
	if len(cfg.SerializedTargets) > 0 {
		pattern = cfg.SerializedTargets[0]
	}
	if name := strings.Trim(pattern, "*?[]{}!."); name != "" {
		return name
	}
	return "default"
}

func buildMatcher(cfg StateQueueConfig) (statequeue.TargetMatcher, error) {
	patterns := cfg.SerializedTargets
	if len(patterns) == 0 {
		patterns = []string{statequeue.DefaultSerializedPattern}
	}
	return statequeue.GlobMatcher(patterns...)
}

func openStore(dataDir string) (*statestore.Store, error) {
	if dataDir == "" {
		return statestore.New(), nil
	}
	return statestore.Open(dataDir)
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	fmt.Printf("logLevel: %v\n", zerolog.GlobalLevel())
}

func StartHere() {

	// This loads the configuration file from the location set in the environment variable
	// SOFTRAINS_CONFIG_FILE, after pulling a .env file from the working directory if there is one.
	softRainsConfig, err := buildSoftRains()
	if err != nil {
		log.Fatal().Msgf("Config File not found, check location set at Environment Variable: SOFTRAINS_CONFIG_FILE\n%v", err)
	}

	// Set the log level based on the configuration
	setLogLevel(softRainsConfig.LogLevel)

	store, err := openStore(softRainsConfig.StoreDataDir)
	if err != nil {
		log.Fatal().Msgf("State store failed to open %v", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := statequeue.NewMetrics(registry)
	if err != nil {
		log.Fatal().Msgf("Metrics failed to register %v", err)
	}

	server, err := softRainsConfig.MQTTService.Build(store)
	if err != nil {
		log.Fatal().Msgf("MQTT Service Failed to build %v", err)
	}
	backend := mqttservice.NewBackend(server, store, softRainsConfig.MQTTService.Prefix())

	matcher, err := buildMatcher(softRainsConfig.StateQueue)
	if err != nil {
		log.Fatal().Msgf("Invalid SerializedTargets %v", err)
	}
	processor := statequeue.NewProcessor(backend, processorConfig(softRainsConfig.StateQueue), statequeue.WithMetrics(metrics))
	defer processor.Close()
	handler := statequeue.NewHandler(processor, backend, matcher)

	wg := &sync.WaitGroup{}

	// Start MQTT service
	// The broker carries the commands to the adapters and their acknowledgments back
	log.Info().Msg("Starting MQTT service")
	wg.Add(1)
	go func(ms mqttservice.MQTTService) {
		defer wg.Done()
		err := ms.Start(server)
		if err != nil {
			log.Fatal().Msgf("MQTT Service Failed to Start %v", err)
		}
	}(softRainsConfig.MQTTService)

	// Start the simulated adapter, only for local runs without real hardware
	if softRainsConfig.AdapterService.Enabled {
		log.Info().Msg("Starting adapter simulation")
		go func(as adapterservice.AdapterService) {
			err := as.Start()
			if err != nil {
				log.Error().Msgf("Adapter simulation stopped %v", err)
			}
		}(softRainsConfig.AdapterService)
	}

	// Start the UI service
	log.Info().Msg("Starting UI service")
	go func(ui *uiservice.UIService) {
		ui.StateHandler = handler
		ui.Store = store
		ui.Gatherer = registry
		err := ui.Start()
		if err != nil {
			log.Fatal().Msgf("UI Service Failed to Start %v", err)
		}
	}(&softRainsConfig.UIService)

	// Wait for the broker to shut down, then give queued writes a last chance to finish
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), processorConfig(softRainsConfig.StateQueue).Timeout*2)
	defer cancel()
	if err := handler.WaitUntilIdle(ctx); err != nil {
		log.Warn().Msgf("stopping with %d queued writes pending", handler.Stats().Outstanding)
	}
	log.Info().Msg("All services stopped")
}
