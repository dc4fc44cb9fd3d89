// Command driftbus is a thin companion binary for the driftbus library: it
// prints version information and runs a small self-contained demo bus.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/driftbus/driftbus"
)

const progName = "driftbus"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() { printUsage(os.Stderr) }

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *showVersion {
		v, err := goversion.NewVersion(driftbus.Version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: malformed version %q: %v\n", progName, driftbus.Version, err)
			return 1
		}
		fmt.Printf("%s %s\n", progName, v)
		return 0
	}

	switch fs.Arg(0) {
	case "":
		printUsage(os.Stdout)
		return 0
	case "demo":
		return demo()
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", progName, fs.Arg(0))
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintf(w, `%[1]s: in-process pub-sub message bus

Usage:
  %[1]s [--version] [--help] [command]

Commands:
  demo    publish ticks on a demo bus until interrupted

Flags:
  --version   print version and exit
  --help      print this help and exit
`, progName)
}

// demo runs a bus with one wildcard subscriber and publishes a tick every
// second until SIGINT/SIGTERM.
func demo() int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	defer logger.Sync()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	interrupted := false
	err = driftbus.Scoped(func(bus *driftbus.PubSub) error {
		_, err := bus.Subscribe(driftbus.Wildcard, func(msg driftbus.Message) error {
			logger.Info("received",
				zap.String("topic", msg.Topic),
				zap.Any("data", msg.Data),
				zap.String("correlation_id", msg.CorrelationID))
			return nil
		}, driftbus.FilterCorrelation(driftbus.Wildcard))
		if err != nil {
			return err
		}

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for n := 0; ; n++ {
			select {
			case <-sig:
				interrupted = true
				bus.Drain(0)
				return nil
			case <-ticker.C:
				if err := bus.Publish("demo.tick", map[string]any{"n": n}); err != nil {
					return err
				}
			}
		}
	}, driftbus.WithLogger(logger))
	if err != nil {
		logger.Error("demo failed", zap.Error(err))
		return 1
	}
	if interrupted {
		return 130
	}
	return 0
}
