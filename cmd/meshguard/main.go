package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/internal/ipfilter"
	"github.com/lessucettes/meshguard/internal/metrics"
	"github.com/lessucettes/meshguard/internal/policy"
	"github.com/lessucettes/meshguard/internal/store"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
	kitpolicy "github.com/lessucettes/meshguard/pkg/meshguard-kit/policy"
)

var version = "dev"

const maxLineSize = 1 << 20

const (
	opWatch   = "watch"
	opUnwatch = "unwatch"
)

// MessageInput is one line of input. With Op set to watch or unwatch the line
// registers or removes the search GUID instead of carrying a message.
type MessageInput struct {
	Op        string           `json:"op,omitempty"`
	GUID      message.GUID     `json:"guid"`
	Direction policy.Direction `json:"direction"`
	Message   message.Message  `json:"message"`
}

type ControlOutput struct {
	Op      string       `json:"op"`
	GUID    message.GUID `json:"guid"`
	Watched int          `json:"watched"`
}

type ErrorOutput struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

// app owns everything shared across pipeline rebuilds.
type app struct {
	provider  *config.Provider
	collector *metrics.Collector
	db        store.Store
	exec      *ipfilter.Executor
	address   *ipfilter.Group
	urns      *ipfilter.URNBlacklist
	watched   *kitpolicy.GUIDSet
	scheduler *ipfilter.Scheduler
	dryRun    bool
	pipeline  atomic.Pointer[policy.Pipeline]
}

func newApp(cfg *config.Config, dryRun bool, extraBlocked []string) (*app, error) {
	a := &app{
		provider:  config.NewProvider(cfg),
		collector: metrics.NewCollector(),
		exec:      ipfilter.NewExecutor(cfg.IPFilter.Workers),
		watched:   kitpolicy.NewGUIDSet(),
		dryRun:    dryRun,
	}

	if cfg.DB.Path != "" {
		db, err := store.NewBadgerStore(&cfg.DB)
		if err != nil {
			a.exec.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db
	}

	opts := ipfilter.Options{Executor: a.exec, Observer: a.collector}

	var sources []ipfilter.Source
	if hostile := cfg.IPFilter.Hostile; hostile.SupplementPath != "" {
		sources = append(sources, ipfilter.NewFileSource(hostile.SupplementPath, hostile.UpdateSource))
	}
	if a.db != nil {
		sources = append(sources, ipfilter.NewStoreSource(a.db))
	}

	var operator ipfilter.Filter
	if len(extraBlocked) > 0 {
		operator = ipfilter.NewStaticFilter(a.provider, ipfilter.FixedLists(extraBlocked, nil), opts)
	}

	local := ipfilter.NewLocalFilter(ipfilter.NewHostileFilter(a.provider, opts), a.provider, sources, opts)
	a.address = ipfilter.All(
		local,
		operator,
		ipfilter.NewPrivateNetworkFilter(a.provider, opts),
		ipfilter.NewGeoFilter(a.provider, ipfilter.OpenResolver, opts),
	)

	var urnSources []ipfilter.Source
	if path := cfg.URNs.Path; path != "" {
		urnSources = append(urnSources, ipfilter.NewFileSource(path, ""))
	}
	a.urns = ipfilter.NewURNBlacklist(a.provider, urnSources, opts)
	a.scheduler = ipfilter.NewScheduler(a.provider, nil, a.address, a.urns)

	ipfilter.RefreshAndWait(a.address)
	ipfilter.RefreshAndWait(a.urns)
	slog.Info("IP filters loaded", "has_blocked_entries", a.address.HasBlockedEntries(), "blacklisted_urns", a.urns.Len())

	p, err := a.buildPipeline(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipeline.Store(p)
	return a, nil
}

func (a *app) buildPipeline(cfg *config.Config) (*policy.Pipeline, error) {
	return policy.BuildPipeline(cfg, policy.Deps{
		Address:   a.address,
		URNs:      a.urns,
		Watched:   a.watched,
		Collector: a.collector,
		DryRun:    a.dryRun,
	})
}

func (a *app) current() *policy.Pipeline { return a.pipeline.Load() }

// reload publishes newCfg, refreshes the IP filters and swaps in a new pipeline.
// Settings that shape the process itself (database, workers, metrics address)
// need a restart.
func (a *app) reload(newCfg *config.Config) {
	slog.Info("Reloading pipeline with new configuration...")
	newPipeline, err := a.buildPipeline(newCfg)
	if err != nil {
		slog.Error("Failed to build new pipeline on config reload, keeping old one", "error", err)
		return
	}

	a.provider.Store(newCfg)
	a.scheduler.Kick()

	if old := a.pipeline.Swap(newPipeline); old != nil {
		go old.Close()
	}
	slog.Info("Pipeline reloaded successfully.")
}

func (a *app) Close() error {
	var err error
	if p := a.pipeline.Load(); p != nil {
		err = multierr.Append(err, p.Close())
	}
	err = multierr.Append(err, a.exec.Close())
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be dropped without actually dropping it.")
	block := flag.String("block", "", "Comma-separated address ranges to block for this run, on top of the configuration.")
	ban := flag.String("ban", "", "Add an address range to the ban store and exit.")
	unban := flag.String("unban", "", "Remove an address range from the ban store and exit.")
	listBans := flag.Bool("list-bans", false, "Print the ban store and exit.")
	banDuration := flag.Duration("ban-duration", 24*time.Hour, "Duration of a -ban; 0 bans permanently.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if *ban != "" || *unban != "" || *listBans {
		cmd := banCommand{ban: *ban, unban: *unban, list: *listBans, duration: *banDuration}
		if err := runBanCommand(*configPath, *useDefaults, cmd, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Ban command failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := runApp(*configPath, *useDefaults, *dryRun, splitList(*block)); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runApp(configPath string, useDefaults, dryRun bool, extraBlocked []string) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logOut := newLogWriter(&cfg.Log)
	defer logOut.Close()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.Log.Level.ToSlogLevel()}))
	slog.SetDefault(logger)
	if dryRun {
		slog.Warn("Running in DRY-RUN mode.")
	}
	slog.Info("meshguard starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	a, err := newApp(cfg, dryRun, extraBlocked)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("Shutdown finished with errors", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		a.serveHTTP(ctx, addr)
	}

	go a.scheduler.Run(ctx)
	if !defaultsUsed {
		go config.StartWatcher(ctx, configPath, a.reload, 0)
	}

	return processMessages(ctx, os.Stdin, os.Stdout, a.current, a.watched)
}

func processMessages(ctx context.Context, r io.Reader, w io.Writer, current func() *policy.Pipeline, watched *kitpolicy.GUIDSet) error {
	linesChan := make(chan []byte)
	errChan := make(chan error, 1)
	encoder := json.NewEncoder(w)

	go func() {
		defer close(errChan)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			lineCopy := make([]byte, len(scanner.Bytes()))
			copy(lineCopy, scanner.Bytes())
			select {
			case linesChan <- lineCopy:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(linesChan)
	}()

	slog.Info("Ready to process messages from stdin...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-linesChan:
			if !ok {
				if err := <-errChan; err != nil {
					return err
				}
				slog.Info("Input stream closed, shutting down.")
				return nil
			}

			if len(line) == 0 {
				continue
			}
			var out any
			var input MessageInput
			if err := json.Unmarshal(line, &input); err != nil {
				slog.Warn("Failed to decode message input JSON", "error", err, "raw_line_prefix", prefix(line, 128))
				out = ErrorOutput{Action: policy.ActionDrop, Error: "malformed input"}
			} else if input.Op != "" {
				out = control(input, watched)
			} else {
				decision, err := current().Process(ctx, input.Direction, &input.Message)
				if err != nil {
					slog.Warn("Rejected invalid message", "guid", input.Message.GUID, "error", err)
				}
				out = decision
			}

			if err := encoder.Encode(out); err != nil {
				if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
					return nil
				}
				slog.Error("Failed to write decision to stdout", "error", err)
			}
		}
	}
}

func control(input MessageInput, watched *kitpolicy.GUIDSet) any {
	switch input.Op {
	case opWatch:
		watched.Add(input.GUID)
	case opUnwatch:
		watched.Remove(input.GUID)
	default:
		slog.Warn("Unknown control operation", "op", input.Op)
		return ErrorOutput{Action: policy.ActionDrop, Error: "unknown op " + input.Op}
	}
	return ControlOutput{Op: input.Op, GUID: input.GUID, Watched: watched.Len()}
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		return err
	}
	if cfg.IPFilter.Geo.Enabled {
		if _, err := ipfilter.OpenResolver(&cfg.IPFilter.Geo); err != nil {
			return fmt.Errorf("ip_filter.geo.database_path: %w", err)
		}
	}
	if _, err := policy.BuildPipeline(cfg, policy.Deps{}); err != nil {
		return err
	}
	return nil
}

type banCommand struct {
	ban      string
	unban    string
	list     bool
	duration time.Duration
}

// runBanCommand edits the ban store. Badger holds an exclusive lock, so this
// fails while a node is running on the same database.
func runBanCommand(configPath string, useDefaults bool, cmd banCommand, w io.Writer) error {
	cfg, _, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := store.NewBadgerStore(&cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if cmd.ban != "" {
		if err := db.BanRange(ctx, cmd.ban, cmd.duration); err != nil {
			return err
		}
	}
	if cmd.unban != "" {
		if err := db.UnbanRange(ctx, cmd.unban); err != nil {
			return err
		}
	}
	if cmd.list {
		entries, err := db.BannedRanges(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintln(w, e)
		}
	}
	return nil
}
