package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Main")

type flags struct {
	configPath  string
	file        string
	title       string
	description string
	visibility  string
	transport   string
	account     string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	set := flag.NewFlagSet("wpr", flag.ContinueOnError)
	set.StringVar(&f.configPath, "config", "", "path to the YAML configuration file (environment only if omitted)")
	set.StringVar(&f.file, "file", "", "upload and publish this video, then exit")
	set.StringVar(&f.title, "title", "", "title of the post (derived from the file name if omitted)")
	set.StringVar(&f.description, "description", "", "description appended below the embedded video")
	set.StringVar(&f.visibility, "visibility", "", "public, private, password or unlisted")
	set.StringVar(&f.transport, "transport", "", "api or automation")
	set.StringVar(&f.account, "account", "", "account whose browser session is used by the automation transport")
	if err := set.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

// main is the entry point to the program. Without -file the publisher runs
// as a service until interrupted; with -file a single job is executed and
// its outcome printed as JSON.
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		return 2
	}

	config, err := internal.LoadConfig(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if level, err := logger.ParseLevel(config.LogLevel); err == nil {
		logger.SetMinLoggingLevel(level.Level())
	} else {
		log.Emit(logger.WARNING, "Ignoring log level: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := internal.New(*config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise: %v\n", err)
		return 1
	}

	if f.file == "" {
		if err := publisher.Run(ctx); err != nil {
			log.Emit(logger.FATAL, "Stopped with error: %v\n", err)
			return 1
		}

		return 0
	}

	job := orchestrator.UploadJob{
		SourceFilePath: f.file,
		Title:          f.title,
		Description:    f.description,
		Visibility:     f.visibility,
		Account:        f.account,
	}
	if job.Title == "" {
		job.Title = orchestrator.TitleFromPath(f.file)
	}
	if f.transport != "" {
		kind, err := transport.ParseKind(f.transport)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 2
		}
		job.Transport = kind
	}

	outcome, err := publisher.RunOnce(ctx, job)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outcome); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if !outcome.Success {
		return 1
	}

	return 0
}
