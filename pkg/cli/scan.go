package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/spindleworks/spindle/pkg/discovery"
)

func newScanCommand() *Command {
	cmd := &Command{
		Name:        "scan",
		Description: "List the expanders and target declarations of a module without running them",
		Flags:       flag.NewFlagSet("scan", flag.ExitOnError),
		Run:         runScan,
	}

	cmd.Flags.String("dir", ".", "Module directory to scan")

	return cmd
}

func runScan(args []string) error {
	cmd := newScanCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	return scan(os.Stdout, cmd.Flags.Lookup("dir").Value.String())
}

func scan(w io.Writer, dir string) error {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	prog, err := discovery.LoadProgram(dir, log)
	if err != nil {
		return err
	}
	exts, targets := discovery.Scan(prog, log)

	fmt.Fprintf(w, "module %s (go %s): %d source units, %d references\n",
		prog.ModulePath, prog.GoVersion, len(prog.Sources), len(prog.References))
	for _, e := range exts {
		fmt.Fprintf(w, "expander %s (%s)\n", e.Type.FullName(), e.Location)
	}
	for _, t := range targets {
		fmt.Fprintf(w, "target %s exported=%t struct=%t (%s)\n",
			t.Type.FullName(), t.Exported, t.Struct, t.Location)
	}
	return nil
}
