// Command reportctl submits and triages reports against the configured
// backends without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"safereport/internal/api/middleware"
	"safereport/internal/app"
	"safereport/internal/config"
	"safereport/internal/domain/models"
	"safereport/internal/domain/services"
	"safereport/internal/streaming"
	"safereport/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "submit":
		return runSubmit(ctx, args[1:])
	case "list":
		return runList(ctx, args[1:])
	case "get":
		return runGet(ctx, args[1:])
	case "set-status":
		return runSetStatus(ctx, args[1:])
	case "token":
		return runToken(args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// stringList collects a repeated flag
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type commonFlags struct {
	config  *string
	verbose *bool
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "path to config file"),
		verbose: fs.Bool("v", false, "log to stderr"),
	}
}

func (c commonFlags) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(*c.config)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Nop()
	if *c.verbose {
		log = logger.New(logger.Config{
			Level:      cfg.Logger.Level,
			Format:     "console",
			TimeFormat: "15:04:05",
			Output:     os.Stderr,
		})
	}
	return cfg, log, nil
}

func (c commonFlags) build(ctx context.Context) (*app.App, error) {
	cfg, log, err := c.load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, app.Options{SkipRedis: true}, log)
}

func runSubmit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	common := addCommon(fs)
	description := fs.String("description", "", "what happened (required)")
	location := fs.String("location", "", "where it happened")
	audio := fs.String("audio", "", "audio file path or URL")
	var images stringList
	fs.Var(&images, "image", "image file path or URL (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := common.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	form := models.ReportFormData{
		Description: *description,
		Location:    *location,
		Images:      images,
		AudioPath:   *audio,
	}
	id, err := a.Submission.Submit(ctx, form, services.SubmitOptions{
		OnProgress: func(pct float64) {
			fmt.Fprintf(os.Stderr, "\ruploading %5.1f%%", pct)
			if pct >= 100 {
				fmt.Fprintln(os.Stderr)
			}
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("report submitted: id=%s\n", id)
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	common := addCommon(fs)
	status := fs.String("status", "", "only reports with this status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := common.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	items, err := a.Query.ListFiltered(ctx, models.ReportFilter{Status: models.ReportStatus(*status)})
	if err != nil {
		return err
	}
	return printJSON(items)
}

func runGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	common := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: reportctl get [flags] <id>")
	}

	a, err := common.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	detail, err := a.Query.Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(detail)
}

func runSetStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	common := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: reportctl set-status [flags] <id> <status>")
	}

	status, ok := models.ParseReportStatus(fs.Arg(1))
	if !ok {
		return fmt.Errorf("unknown status %q", fs.Arg(1))
	}

	a, err := common.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Query.SetStatus(ctx, fs.Arg(0), status); err != nil {
		return err
	}
	fmt.Printf("status updated: id=%s status=%s\n", fs.Arg(0), status)
	return nil
}

// runToken issues an authority bearer token for the read API
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	common := addCommon(fs)
	subject := fs.String("sub", "", "token subject, e.g. an officer id (required)")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-sub is required")
	}

	cfg, _, err := common.load()
	if err != nil {
		return err
	}
	token, err := middleware.IssueToken(cfg.JWT, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runWatch streams report events from NATS until interrupted
func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	common := addCommon(fs)
	var types, statuses stringList
	fs.Var(&types, "type", "event type to include (repeatable)")
	fs.Var(&statuses, "status", "resulting status to include (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := common.load()
	if err != nil {
		return err
	}
	if !cfg.NATS.Enabled {
		return fmt.Errorf("nats is disabled; set nats.enabled to watch events")
	}

	pub, err := streaming.NewNATSPublisher(ctx, cfg.NATS, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	sub := &streaming.Subscription{}
	for _, t := range types {
		sub.Types = append(sub.Types, streaming.EventType(t))
	}
	for _, s := range statuses {
		sub.Statuses = append(sub.Statuses, models.ReportStatus(s))
	}

	events, err := pub.Subscribe(ctx, sub)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	return nil
}

func printUsage() {
	fmt.Println(`reportctl - anonymous report pipeline tool

Usage:
  reportctl submit -description TEXT [-location TEXT] [-image PATH]... [-audio PATH]
  reportctl list [-status pending|in_progress|resolved]
  reportctl get <id>
  reportctl set-status <id> <status>
  reportctl token -sub SUBJECT [-ttl 12h]
  reportctl watch [-type report_submitted] [-status resolved]

Every command accepts -config PATH and -v.`)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
