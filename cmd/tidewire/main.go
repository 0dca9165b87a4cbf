// Command tidewire connects to the local market-data daemon, subscribes to
// the requested securities, and prints value changes until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tidewire/tidewire/config"
	"github.com/tidewire/tidewire/internal/result"
	"github.com/tidewire/tidewire/internal/session"
	"github.com/tidewire/tidewire/internal/subscription"
	"github.com/tidewire/tidewire/internal/telemetry"
	"github.com/tidewire/tidewire/internal/transport"
	"github.com/tidewire/tidewire/internal/wire"
	libtelemetry "github.com/tidewire/tidewire/lib/telemetry"
)

const (
	loggerPrefix             = "tidewire "
	shutdownTimeout          = 15 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	opts := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)

	settings, err := config.Load(opts.configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: daemon=%s", settings.Daemon.URL)

	provider, telemetryShutdown, err := libtelemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}
	metrics, err := telemetry.New(provider)
	if err != nil {
		logger.Fatalf("create metrics: %v", err)
	}

	// The daemon needs its handler at dial time while the session needs the
	// connection at construction; the relay breaks the cycle.
	relay := newEventRelay()
	daemon, err := transport.Dial(ctx, settings.Daemon, relay)
	if err != nil {
		logger.Fatalf("dial daemon: %v", err)
	}

	sess := session.New(settings.Session, daemon,
		session.WithMetrics(metrics),
		session.WithStateListener(func(state session.State) {
			logger.Printf("session state: %s", state)
		}),
	)
	relay.SetTarget(sess)

	go drainTransportErrors(ctx, logger, daemon.Errors())

	if err := sess.Start(ctx); err != nil {
		logger.Fatalf("start session: %v", err)
	}
	logger.Printf("session started")

	if opts.snapshot && len(opts.securities) > 0 {
		runSnapshot(ctx, logger, sess, settings.Session.ReferenceService, opts)
	}

	if len(opts.securities) > 0 {
		spec := subscription.Spec{
			Securities:    opts.securities,
			Fields:        opts.fields,
			Listeners:     []subscription.DataListener{&printListener{logger: logger}},
			ErrorListener: &printListener{logger: logger},
			Throttle:      opts.throttle,
		}
		if err := sess.Subscribe(ctx, spec); err != nil {
			logger.Fatalf("subscribe: %v", err)
		}
		logger.Printf("subscribed: securities=%d fields=%v", len(opts.securities), opts.fields)
	} else {
		logger.Printf("no securities requested; session idle")
	}

	<-ctx.Done()
	logger.Printf("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sess.Stop(shutdownCtx); err != nil {
		logger.Printf("stop session: %v", err)
	}
	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := telemetryShutdown(telemetryCtx); err != nil {
		logger.Printf("shutdown telemetry: %v", err)
	}
	logger.Printf("shutdown complete")
}

type options struct {
	configPath string
	securities []string
	fields     []string
	throttle   time.Duration
	snapshot   bool
}

func parseFlags() options {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	securities := flag.String("securities", "", "Comma-separated securities to subscribe")
	fields := flag.String("fields", "LAST_PRICE", "Comma-separated fields to watch")
	throttle := flag.Duration("throttle", 0, "Minimum interval between updates per security")
	snapshot := flag.Bool("snapshot", false, "Issue a reference query before subscribing")
	flag.Parse()
	return options{
		configPath: *configPath,
		securities: splitList(*securities),
		fields:     splitList(*fields),
		throttle:   *throttle,
		snapshot:   *snapshot,
	}
}

// runSnapshot issues one reference-data query for the requested securities
// and prints the decoded table.
func runSnapshot(ctx context.Context, logger *log.Logger, sess *session.Session, service string, opts options) {
	securities := make([]*wire.Element, 0, len(opts.securities))
	for _, sec := range opts.securities {
		securities = append(securities, wire.Scalar("security", wire.TypeString, sec))
	}
	fields := make([]*wire.Element, 0, len(opts.fields))
	for _, field := range opts.fields {
		fields = append(fields, wire.Scalar("fieldId", wire.TypeString, field))
	}
	body := wire.Sequence("ReferenceDataRequest",
		wire.Array("securities", securities...),
		wire.Array("fields", fields...),
	)

	pending, err := sess.Submit(ctx, wire.NewRequest(service, "ReferenceDataRequest", body), result.KindReference)
	if err != nil {
		logger.Printf("snapshot submit: %v", err)
		return
	}
	table, err := pending.ResultTimeout(sess.DefaultTimeout())
	if err != nil {
		logger.Printf("snapshot result: %v", err)
		return
	}
	for _, sec := range opts.securities {
		if table.SecurityFailed(sec) {
			logger.Printf("snapshot %s: security error", sec)
			continue
		}
		for _, field := range opts.fields {
			if value, ok := table.Get(sec, field); ok {
				logger.Printf("snapshot %s %s=%v", sec, field, value)
			}
		}
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func drainTransportErrors(ctx context.Context, logger *log.Logger, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			logger.Printf("transport: %v", err)
		}
	}
}

// eventRelay forwards daemon events to the session once it exists. Events
// arriving before the session is wired, such as the initial session status,
// are buffered and replayed in order.
type eventRelay struct {
	mu      sync.Mutex
	target  *session.Session
	backlog []wire.Event
}

func newEventRelay() *eventRelay {
	return &eventRelay{mu: sync.Mutex{}, target: nil, backlog: nil}
}

// SetTarget wires the session and replays anything buffered before it. The
// lock is held through the replay so a concurrent delivery cannot overtake
// buffered events.
func (r *eventRelay) SetTarget(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = sess
	for _, evt := range r.backlog {
		_ = sess.ProcessEvent(evt)
	}
	r.backlog = nil
}

func (r *eventRelay) ProcessEvent(evt wire.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == nil {
		r.backlog = append(r.backlog, evt)
		return nil
	}
	return r.target.ProcessEvent(evt)
}

// printListener logs data changes and subscription errors to stdout.
type printListener struct {
	logger *log.Logger
}

func (p *printListener) OnDataChange(evt subscription.DataEvent) {
	p.logger.Printf("%s %s: %v -> %v", evt.Security, evt.Field, evt.Old, evt.New)
}

func (p *printListener) OnSubscriptionError(err subscription.Error) {
	p.logger.Printf("%s subscription %s: code=%d category=%s %s",
		err.Security, err.Status, err.Code, err.Category, err.Description)
}
