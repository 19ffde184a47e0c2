// Command evcat runs a configured routine and prints every event it
// produces to stdout, one line per event.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsm/eventcalls/handler"
	"github.com/lsm/eventcalls/internal/config"
	"github.com/lsm/eventcalls/internal/observability"
	"github.com/lsm/eventcalls/routine"
	"github.com/lsm/eventcalls/source"
	filesource "github.com/lsm/eventcalls/source/file"
	kafkasource "github.com/lsm/eventcalls/source/kafka"
	serialsource "github.com/lsm/eventcalls/source/serial"
	udpsource "github.com/lsm/eventcalls/source/udp"
	wssource "github.com/lsm/eventcalls/source/ws"
)

const usage = `Usage: evcat --routine <name> [options]

Runs a routine defined in the config directory and prints its events.

Options:
  --routine <name>       Routine definition to run (defaults to the only one)
  --config-dir <dir>     Definition directory (default: $EVENTCALLS_CONFIG_DIR or ./routines)
  --log-level <level>    debug, info, warn, error
  --metrics-addr <addr>  Serve Prometheus metrics on this address
  --detailed-errors      Log read failures with full diagnostic detail

Examples:
  evcat --routine telemetry
  evcat --routine telemetry --metrics-addr :9090`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var name, configDir, logLevel, metricsAddr string
	detailed := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			fmt.Println(usage)
			return nil
		case "--routine":
			i++
			if i >= len(args) {
				return fmt.Errorf("--routine requires a value")
			}
			name = args[i]
		case "--config-dir":
			i++
			if i >= len(args) {
				return fmt.Errorf("--config-dir requires a value")
			}
			configDir = args[i]
		case "--log-level":
			i++
			if i >= len(args) {
				return fmt.Errorf("--log-level requires a value")
			}
			logLevel = args[i]
		case "--metrics-addr":
			i++
			if i >= len(args) {
				return fmt.Errorf("--metrics-addr requires a value")
			}
			metricsAddr = args[i]
		case "--detailed-errors":
			detailed = true
		default:
			return fmt.Errorf("unknown flag %q", args[i])
		}
	}

	logger := observability.NewLogger("evcat", observability.GetLogLevel(logLevel))
	slog.SetDefault(logger)

	if configDir == "" {
		configDir = os.Getenv("EVENTCALLS_CONFIG_DIR")
	}
	if configDir == "" {
		configDir = "./routines"
	}
	if metricsAddr == "" {
		metricsAddr = os.Getenv("EVENTCALLS_METRICS_ADDR")
	}

	loader := config.NewLoader(configDir, logger)
	defs, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("no routine definitions found in %s", configDir)
	}

	def, err := pickDefinition(defs, name)
	if err != nil {
		return err
	}

	src, err := buildSource(def, logger)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	var metrics *observability.Metrics
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
		metrics = observability.NewMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("metrics server starting", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	finished := make(chan source.Status, 1)
	h := handler.Funcs{
		OnInitialized: func(status source.Status) {
			logger.Info("routine initialized", "routine", def.Name, "status", status)
		},
		OnHandle: func(evt source.Event) {
			line, err := formatEvent(def, evt)
			if err != nil {
				logger.Error("failed to format event", "error", err)
				return
			}
			fmt.Println(line)
		},
		OnDone: func(status source.Status) {
			finished <- status
		},
	}

	rt := routine.New(routine.Config{
		Name:             def.Name,
		StartImmediately: true,
		DetailedErrors:   detailed,
		Logger:           logger,
		Metrics:          metrics,
	}, src, h)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, stopping", "signal", sig.String())
		rt.Stop()
		status := <-finished
		return statusErr(status)
	case status := <-finished:
		rt.Stop()
		return statusErr(status)
	}
}

func statusErr(status source.Status) error {
	if err, ok := status.(error); ok {
		return fmt.Errorf("routine ended with error: %w", err)
	}
	return nil
}

func pickDefinition(defs map[string]*config.RoutineDefinition, name string) (*config.RoutineDefinition, error) {
	if name != "" {
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("no routine named %q in config", name)
		}
		return def, nil
	}
	if len(defs) == 1 {
		for _, def := range defs {
			return def, nil
		}
	}
	return nil, fmt.Errorf("multiple routines configured, pick one with --routine")
}

func buildSource(def *config.RoutineDefinition, logger *slog.Logger) (source.Source, error) {
	c := def.Source.Config
	switch def.Source.Type {
	case "udp":
		return udpsource.Bind(getInt(c, "port"), udpsource.Config{
			BufferSize: getInt(c, "buffersize"),
			Logger:     logger,
		})
	case "serial":
		device := getString(c, "device")
		if device == "" {
			return nil, fmt.Errorf("serial source requires 'device'")
		}
		return serialsource.Open(device, serialsource.Config{
			BaudRate:  getInt(c, "baudrate"),
			Delimiter: getString(c, "delimiter"),
			Logger:    logger,
		})
	case "file":
		return filesource.New(filesource.Config{
			Path:      getString(c, "path"),
			FromStart: getBool(c, "fromStart"),
			Logger:    logger,
		})
	case "ws":
		url := getString(c, "url")
		if url == "" {
			return nil, fmt.Errorf("ws source requires 'url'")
		}
		return wssource.Dial(url, wssource.Config{Logger: logger})
	case "kafka":
		return kafkasource.NewSource(kafkasource.Config{
			Brokers:       getStringSlice(c, "brokers"),
			Topic:         getString(c, "topic"),
			ConsumerGroup: getString(c, "consumerGroup"),
			StartOffset:   getString(c, "startOffset"),
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown source type %q", def.Source.Type)
	}
}

// getString and friends pull loosely-typed values out of a definition's
// source config map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func getBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func getStringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// formatEvent renders one event as a single output line, either the raw
// payload or a CloudEvents JSON envelope.
func formatEvent(def *config.RoutineDefinition, evt source.Event) (string, error) {
	payload := eventPayload(evt)
	if def.Output.Format != "cloudevents" {
		out, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource("evcat/" + def.Name)
	e.SetType("io.eventcalls." + def.Source.Type)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return "", err
	}
	out, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// eventPayload maps each source's event type onto a JSON-friendly value.
func eventPayload(evt source.Event) any {
	switch e := evt.(type) {
	case udpsource.Datagram:
		return map[string]any{"data": string(e.Data), "addr": e.Addr.String()}
	case wssource.Message:
		return map[string]any{"type": e.Type, "data": string(e.Data)}
	case kafkasource.Record:
		return map[string]any{
			"key":       string(e.Key),
			"value":     string(e.Value),
			"topic":     e.Topic,
			"partition": e.Partition,
			"offset":    e.Offset,
			"headers":   e.Headers,
		}
	case []byte:
		return string(e)
	default:
		if b, err := json.Marshal(e); err == nil {
			return json.RawMessage(b)
		}
		return base64.StdEncoding.EncodeToString([]byte(fmt.Sprint(e)))
	}
}
