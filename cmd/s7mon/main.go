// s7mon is a terminal tag monitor for Siemens S7 PLCs: it connects to every
// enabled PLC in the configuration, polls its configured tags on the
// configured poll rate, and renders a live table of tag/address/value/
// last-updated, optionally mirroring values to Redis and Kafka via
// tagcache.
package main

import (
	"flag"
	"fmt"
	"os"

	"s7link/config"
	"s7link/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging. Use 'all' for all protocols, or specify protocol (s7,s7iso,tagcache,debug)")
	redisAddr     = flag.String("redis", "", "Redis address (host:port) to mirror tag values into, empty disables")
	redisPassword = flag.String("redis-password", "", "Redis password")
	redisDB       = flag.Int("redis-db", 0, "Redis database number")
	kafkaBrokers  = flag.String("kafka-brokers", "", "Comma-separated Kafka broker addresses")
	kafkaTopic    = flag.String("kafka-topic", "", "Kafka topic to publish tag snapshots to, empty disables")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("s7mon %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace %q (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	var fileLogger *logging.FileLogger
	if *logFile != "" {
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		} else {
			defer fileLogger.Close()
		}
	}

	if *logDebug != "" {
		debugLogger, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
			defer debugLogger.Close()
		}
	}

	opts := sinkOptions{
		redisAddr:     *redisAddr,
		redisPassword: *redisPassword,
		redisDB:       *redisDB,
		kafkaBrokers:  splitCSV(*kafkaBrokers),
		kafkaTopic:    *kafkaTopic,
	}

	app := NewApp(cfg, opts, fileLogger)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
