package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/seqsense/pcdmls/internal/logging"
)

const helpMessage = `
pcdmls projects points onto the moving least squares surface of a point cloud.

Usage: pcdmls [options] -in <cloud.pcd> -out <surface.pcd>

  -in         (path)      Input point cloud. Normals, radii and colors are used when present.
  -query      (path)      Points to project. Defaults to the input points.
  -out        (path)      Output point cloud with positions, normals and colors.
  -config     (path)      YAML or TOML configuration file.
  -workers    (number)    Number of concurrent projections.
  -log        (path)      Log file, overriding the configuration.
  -v          (flag)      Verbose logging.
  -h, -help   (flag)      Show this message.

Configuration sections are "surface", "preprocess" and "logging".
`

var (
	showHelp  = flag.Bool("help", false, "")
	showHelp2 = flag.Bool("h", false, "")

	input      = flag.String("in", "", "")
	query      = flag.String("query", "", "")
	output     = flag.String("out", "", "")
	configFile = flag.String("config", "", "")
	workers    = flag.Int("workers", runtime.NumCPU(), "")
	logFile    = flag.String("log", "", "")
	verbose    = flag.Bool("v", false, "")
)

func main() {
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *showHelp || *showHelp2 || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Both -in and -out are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logFile != "" {
		cfg.Logging.Logfile = *logFile
	}
	if *verbose {
		logging.SetLogMode(logging.DebugMode)
	}
	closeLog := cfg.Logging.SetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, options{
		input:   *input,
		query:   *query,
		output:  *output,
		workers: *workers,
	})
	cancel()
	closeLog()
	if err != nil {
		logging.Fatalf("%v", err)
	}
}
