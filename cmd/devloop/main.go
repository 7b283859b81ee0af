package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/config"
	"github.com/devloop-sh/devloop/internal/errors"
	"github.com/devloop-sh/devloop/internal/events"
	"github.com/devloop-sh/devloop/internal/example"
	"github.com/devloop-sh/devloop/internal/export"
	"github.com/devloop-sh/devloop/internal/logging"
	"github.com/devloop-sh/devloop/internal/supervisor"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel string
	format   string
	writeLog bool
	otel     bool
	fnames   bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&g.format, "f", "pretty", "output format: pretty or json")
	fs.BoolVar(&g.writeLog, "write-log", false, "also write logs to ./bslive.log")
	fs.BoolVar(&g.otel, "otel", false, "enable OpenTelemetry export (reserved)")
	fs.BoolVar(&g.fnames, "filenames", false, "print only filenames for change events")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "start"
	if len(args) > 0 {
		switch args[0] {
		case "start", "export", "example", "watch":
			cmd = args[0]
			args = args[1:]
		}
	}

	switch cmd {
	case "start":
		return cmdStart(args)
	case "export":
		return cmdExport(args)
	case "example":
		return cmdExample(args)
	case "watch":
		return cmdWatch(args)
	}
	return 1
}

func setupLogging(g *globalFlags) func() {
	logger, closer, err := logging.New(logging.Config{
		Level:    g.logLevel,
		Format:   g.format,
		WriteLog: g.writeLog,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return func() {}
	}
	logging.SetGlobal(logger)
	if g.otel {
		logging.Debug("otel flag set; exporter not configured in this build")
	}
	return func() {
		logging.Sync()
		if closer != nil {
			closer.Close()
		}
	}
}

// reportError renders a fatal startup error in the selected format.
func reportError(g *globalFlags, err error) {
	if g.format == "json" {
		var ie *errors.InputError
		if stderrors.As(err, &ie) {
			evt := events.ExternalEvent{Kind: events.InputRejected, Error: ie.Error(), Payload: map[string]any{
				"kind": string(ie.Kind), "path": ie.Path, "line": ie.Line, "column": ie.Column,
			}}
			fmt.Fprintln(os.Stderr, string(evt.JSON()))
			return
		}
		evt := events.ExternalEvent{Kind: events.InputRejected, Error: err.Error()}
		fmt.Fprintln(os.Stderr, string(evt.JSON()))
		return
	}
	var ie *errors.InputError
	if stderrors.As(err, &ie) {
		fmt.Fprintln(os.Stderr, ie.Pretty())
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	input := fs.String("i", "", "input file (yaml or markdown)")
	port := fs.Int("p", 0, "port for servers lowered from bare paths")
	cors := fs.Bool("cors", false, "enable CORS on routes lowered from bare paths")
	write := fs.Bool("write", false, "persist the input inferred from bare paths to disk")
	force := fs.Bool("force", false, "overwrite an existing input file with --write")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	defer setupLogging(&g)()

	sink := events.NewStdoutSink(os.Stdout, g.format)
	sink.FilenamesOnly(g.fnames)
	sys := supervisor.NewSystem(sink)

	var err error
	if *input != "" {
		_, err = sys.StartFromFile(*input)
	} else {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			reportError(&g, cwdErr)
			return 1
		}
		var in *config.Input
		in, err = config.FromArgs(cwd, fs.Args(), *port, *cors)
		if err == nil && *write {
			var path string
			path, err = config.WriteInput(cwd, in, config.TargetYAML, *force)
			if err == nil {
				logging.Info("input written", zap.String("path", path))
			}
		}
		if err == nil {
			_, err = sys.Start(in)
		}
	}
	if err != nil {
		reportError(&g, err)
		return 1
	}

	logging.Info("started", zap.String("version", version))
	waitForSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sys.Stop(ctx)
	return 0
}

func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	input := fs.String("i", "", "input file (yaml or markdown)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	defer setupLogging(&g)()

	if *input == "" {
		reportError(&g, errors.NewInputError(errors.Validation, "", "watch requires -i <file>"))
		return 1
	}

	sink := events.NewStdoutSink(os.Stdout, g.format)
	sink.FilenamesOnly(g.fnames)
	sys := supervisor.NewSystem(sink)
	if err := sys.WatchOnly(*input); err != nil {
		reportError(&g, err)
		return 1
	}

	waitForSignal()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sys.Stop(ctx)
	return 0
}

func cmdExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	input := fs.String("i", "", "input file (yaml or markdown)")
	dir := fs.String("dir", "", "target directory (required)")
	dryRun := fs.Bool("dry-run", false, "list the files without writing")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	defer setupLogging(&g)()

	if *input == "" || *dir == "" {
		reportError(&g, errors.NewInputError(errors.Validation, "", "export requires -i <file> and --dir <path>"))
		return 1
	}

	in, err := config.NewLoader().Load(*input)
	if err != nil {
		reportError(&g, err)
		return 1
	}
	written, err := export.Export(in, export.Options{Dir: *dir, DryRun: *dryRun, Force: *force})
	if err != nil {
		reportError(&g, err)
		return 1
	}
	for _, p := range written {
		fmt.Println(p)
	}
	return 0
}

func cmdExample(args []string) int {
	fs := flag.NewFlagSet("example", flag.ContinueOnError)
	var g globalFlags
	g.register(fs)
	kind := fs.String("example", "basic", "example kind: basic, lit, md, playground")
	dir := fs.String("dir", "", "target directory")
	temp := fs.Bool("temp", false, "scaffold into a temp directory")
	name := fs.String("name", "", "project name")
	target := fs.String("target", "yaml", "input format: yaml, toml, md, or html")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	defer setupLogging(&g)()

	out, err := example.Scaffold(example.Options{
		Kind:   example.Kind(*kind),
		Dir:    *dir,
		Temp:   *temp,
		Name:   *name,
		Target: *target,
	})
	if err != nil {
		reportError(&g, err)
		return 1
	}
	fmt.Println(out)
	return 0
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
