package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/spindleworks/spindle/pkg/artifacts"
	"github.com/spindleworks/spindle/pkg/config"
	"github.com/spindleworks/spindle/pkg/diagnostics"
	"github.com/spindleworks/spindle/pkg/discovery"
	"github.com/spindleworks/spindle/pkg/engine"
	"github.com/spindleworks/spindle/pkg/observability"
)

func newExpandCommand() *Command {
	cmd := &Command{
		Name:        "expand",
		Description: "Run one expansion pass over a module and write its artifacts",
		Flags:       flag.NewFlagSet("expand", flag.ExitOnError),
		Run:         runExpand,
	}

	cmd.Flags.String("dir", ".", "Module directory to expand")
	cmd.Flags.String("out", "", "Output directory for artifacts (default from SPINDLE_OUTPUT_DIR)")
	cmd.Flags.String("log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

func runExpand(args []string) error {
	cmd := newExpandCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	dir := cmd.Flags.Lookup("dir").Value.String()
	out := cmd.Flags.Lookup("out").Value.String()
	level := cmd.Flags.Lookup("log-level").Value.String()

	return expand(os.Stdout, dir, out, level)
}

// expand runs one full pass over the module at dir: discovery, pipeline,
// artifact write. Diagnostics are printed to w as they are produced; the
// pass counts as failed when any error-severity diagnostic was reported.
func expand(w io.Writer, dir, out, level string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if out != "" {
		cfg.OutputDir = out
	}

	log := logrus.New()
	log.SetLevel(cfg.LogLevel)
	if level != "" {
		lv, perr := logrus.ParseLevel(level)
		if perr != nil {
			return fmt.Errorf("invalid log level %q: %w", level, perr)
		}
		log.SetLevel(lv)
	}

	prog, err := discovery.LoadProgram(dir, log)
	if err != nil {
		return err
	}
	exts, targets := discovery.Scan(prog, log)

	collector := diagnostics.NewCollector()
	reporter := diagnostics.Multi{collector, writerReporter{w}}

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	registry := artifacts.NewMemory()
	pipeline := engine.New(prog, exts, engine.Options{
		Reporter:     reporter,
		Artifacts:    registry,
		Log:          log,
		Metrics:      metrics,
		MaxGoVersion: cfg.MaxGoVersion,
	})
	defer pipeline.Close()

	ctx := context.Background()
	if pipeline.Begin(ctx) {
		for _, target := range targets {
			if perr := pipeline.Process(ctx, target); perr != nil {
				return perr
			}
		}
	}

	if registry.Len() > 0 {
		if werr := artifacts.WriteAll(cfg.OutputDir, registry.Artifacts()); werr != nil {
			return werr
		}
	}

	fmt.Fprintf(w, "expanded %d targets with %d expanders, %d artifacts written to %s\n",
		len(targets), len(exts), registry.Len(), cfg.OutputDir)

	if collector.HasErrors() {
		return fmt.Errorf("expansion completed with errors")
	}
	return nil
}

// writerReporter prints diagnostics in file:line:col: severity [CODE]
// message form.
type writerReporter struct {
	w io.Writer
}

// Report implements diagnostics.Reporter.
func (r writerReporter) Report(d diagnostics.Diagnostic) {
	fmt.Fprintln(r.w, d.String())
}
