package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/lessucettes/meshguard/internal/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
	kitpolicy "github.com/lessucettes/meshguard/pkg/meshguard-kit/policy"
)

var ErrNilMessage = errors.New("nil message")

type MetricsCollector interface {
	Report(direction string, res kitpolicy.FilterResult)
}

// Pipeline runs the route and personal chains. The chains hold stateful
// detectors, so Process must not be called from more than one goroutine at a time.
type Pipeline struct {
	route    *kitpolicy.CompositeFilter
	personal *kitpolicy.CompositeFilter

	rejectionLevels map[string]config.LogLevel
	logLimiter      *rate.Limiter
	collector       MetricsCollector
	dryRun          bool
	closers         []io.Closer
	wg              sync.WaitGroup
}

func NewPipeline(
	cfg *config.Config,
	route, personal *kitpolicy.CompositeFilter,
	collector MetricsCollector,
	dryRun bool,
	closers ...io.Closer,
) *Pipeline {
	var limiter *rate.Limiter
	if cfg.Log.RejectionRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Log.RejectionRate), cfg.Log.RejectionBurst)
	}
	if route == nil {
		route = kitpolicy.NewCompositeFilter()
	}
	if personal == nil {
		personal = kitpolicy.NewCompositeFilter()
	}
	return &Pipeline{
		route:           route,
		personal:        personal,
		rejectionLevels: cfg.Log.RejectionLevels,
		logLimiter:      limiter,
		collector:       collector,
		dryRun:          dryRun,
		closers:         closers,
	}
}

func (p *Pipeline) chain(dir Direction) (*kitpolicy.CompositeFilter, error) {
	switch dir {
	case DirectionRoute:
		return p.route, nil
	case DirectionPersonal:
		return p.personal, nil
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

// Process checks msg against the chain for dir. Invalid input returns an
// error; a filter panic is logged and the message is dropped.
func (p *Pipeline) Process(ctx context.Context, dir Direction, msg *message.Message) (decision Decision, err error) {
	p.wg.Add(1)
	defer p.wg.Done()

	if msg == nil {
		return Decision{Direction: dir, Action: ActionDrop, Reason: "invalid_message"}, ErrNilMessage
	}
	chain, err := p.chain(dir)
	if err != nil {
		return Decision{Direction: dir, GUID: msg.GUID, Action: ActionDrop, Reason: "invalid_direction"}, err
	}
	if err := msg.Validate(); err != nil {
		return Decision{Direction: dir, GUID: msg.GUID, Action: ActionDrop, Reason: "invalid_message"}, err
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in filter pipeline",
				"panic", r, "direction", dir, "guid", msg.GUID, "kind", msg.Kind, "stack", string(debug.Stack()),
			)
			decision = Decision{Direction: dir, GUID: msg.GUID, Action: ActionDrop, Reason: "internal_error"}
			err = nil
		}
	}()

	res := chain.Match(msg)
	if p.collector != nil {
		p.collector.Report(string(dir), res)
	}

	if res.Allowed {
		slog.Debug("Message accepted by all filters", "direction", dir, "guid", msg.GUID, "kind", msg.Kind)
		return Decision{Direction: dir, GUID: msg.GUID, Action: ActionAllow}, nil
	}

	p.logRejection(ctx, dir, msg, res)

	if p.dryRun {
		return Decision{Direction: dir, GUID: msg.GUID, Action: ActionAllow, Filter: res.Filter, Reason: res.Reason}, nil
	}
	return Decision{Direction: dir, GUID: msg.GUID, Action: ActionDrop, Filter: res.Filter, Reason: res.Reason}, nil
}

func (p *Pipeline) logRejection(ctx context.Context, dir Direction, msg *message.Message, res kitpolicy.FilterResult) {
	if p.logLimiter != nil && !p.logLimiter.Allow() {
		return
	}

	logAttrs := []slog.Attr{
		slog.String("filter_name", res.Filter),
		slog.String("direction", string(dir)),
		slog.String("guid", msg.GUID.String()),
		slog.String("kind", msg.Kind.String()),
		slog.Int("hops", int(msg.Hops)),
		slog.String("reason", res.Reason),
	}
	if addr, ok := msg.SenderAddr(); ok {
		logAttrs = append(logAttrs, slog.String("sender", addr.String()))
	}

	logLevel := slog.LevelWarn
	if level, ok := p.rejectionLevels[res.Filter]; ok {
		logLevel = level.ToSlogLevel()
	}
	slog.LogAttrs(ctx, logLevel, "Message rejected by filter", logAttrs...)

	if p.dryRun {
		slog.LogAttrs(ctx, slog.LevelInfo, "Dry-run: message would be dropped", logAttrs...)
	}
}

// Close waits for in-flight Process calls and closes the pipeline's resources.
func (p *Pipeline) Close() error {
	p.wg.Wait()

	var err error
	for _, c := range p.closers {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		slog.Error("Failed to close pipeline components", "error", err)
	}
	return err
}
