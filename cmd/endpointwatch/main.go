// Command endpointwatch is a terminal dashboard over a single demo
// Endpoint, wired to internal/memtransport rather than a real socket.
// It exists to make the state machine and event bus observable from a
// terminal, the way the teacher's splash screen makes startup
// observable (internal/version), adapted here into a live view. It
// also doubles as the one process that wires the rest of the ambient
// stack together: epconfig.Load resolves and hot-reloads the endpoint's
// Config, and obslog.NewMirror turns every bus event into a structured
// log line alongside the dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/arrowdb/conncore/internal/coreevents"
	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/internal/endpoint"
	"github.com/arrowdb/conncore/internal/epconfig"
	"github.com/arrowdb/conncore/internal/memtransport"
	"github.com/arrowdb/conncore/internal/obslog"
	"github.com/arrowdb/conncore/internal/version"
	"github.com/arrowdb/conncore/pkg/eventbus"
	"github.com/arrowdb/conncore/theme"
)

func main() {
	extended := flag.Bool("version", false, "print version info and exit")
	failures := flag.Int("fail", 1, "simulated dial failures before the demo endpoint connects")
	flag.Parse()

	if *extended {
		version.PrintVersionInfo(true, log.New(os.Stdout, "", 0))
		return
	}

	// ep is assigned below, after epconfig.Load returns its first Config;
	// onReload only ever fires later, once viper's file watcher wakes up,
	// so by the time it runs ep is always set.
	var ep *endpoint.Endpoint
	var styled *obslog.StyledLogger

	epCfg, err := epconfig.Load(func(reloaded *epconfig.Config) {
		if ep == nil {
			return
		}
		cfg := endpoint.ConfigFromEpconfig(reloaded.Endpoint)
		if err := ep.UpdateConfig(cfg); err != nil && styled != nil {
			styled.Error("config reload rejected", "error", err)
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "endpointwatch: loading config:", err)
		os.Exit(1)
	}

	logger, closeLogger, err := obslog.New(logConfigFrom(epCfg.Logging))
	if err != nil {
		fmt.Fprintln(os.Stderr, "endpointwatch: starting logger:", err)
		os.Exit(1)
	}
	defer closeLogger()
	styled = obslog.NewStyledLogger(logger, theme.Default())

	cfg := endpoint.ConfigFromEpconfig(epCfg.Endpoint)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "endpointwatch: invalid config:", err)
		os.Exit(1)
	}

	bus := eventbus.New[coreevents.Event]()
	defer bus.Shutdown()
	bus.SetDropNotifier(coreevents.EventBusDropped)

	mirror := obslog.NewMirror(bus, styled)
	defer mirror.Stop()

	dialer := &memtransport.Dialer{FailuresBeforeSuccess: *failures, Delay: 150 * time.Millisecond}

	ep = endpoint.New(endpoint.Params{
		RemoteHost:  "127.0.0.1",
		RemotePort:  11210,
		ServiceType: ctxmeta.ServiceKV,
		Environment: ctxmeta.EnvironmentHandle{Name: "endpointwatch-demo", Implied: true},
		Supplier:    dialer.Supplier(),
		Initializer: &memtransport.Initializer{},
		Config:      cfg,
		Bus:         bus,
	})
	defer ep.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := bus.Subscribe(ctx)

	ep.Connect()

	m := newModel(ep, ctxmeta.EndpointIdentity{RemoteHost: "127.0.0.1", RemotePort: 11210, ServiceType: ctxmeta.ServiceKV}, events, cancel)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "endpointwatch:", err)
		os.Exit(1)
	}
}

// logConfigFrom adapts epconfig's LoggingConfig (viper/yaml-shaped, spec
// §6) onto obslog.Config.
func logConfigFrom(lc epconfig.LoggingConfig) *obslog.Config {
	cfg := obslog.Default()
	if lc.Level != "" {
		cfg.Level = lc.Level
	}
	if lc.Dir != "" {
		cfg.LogDir = lc.Dir
	}
	cfg.FileOutput = lc.Output == "file"
	cfg.PrettyLogs = lc.Format != "json"
	return cfg
}
