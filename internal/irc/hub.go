package irc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dalnet/nexuslink/internal/command"
	"github.com/dalnet/nexuslink/internal/config"
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
	"github.com/dalnet/nexuslink/internal/storage"
)

// Version information (set at build time or here)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Hub owns one session per configured network. It is the protocol layer
// service modules send through, and it routes operator commands.
type Hub struct {
	cfg      *config.Config
	bus      *hook.Bus
	networks *state.Registry
	commands *command.Registry
	audit    *storage.AuditLog
	log      *zap.SugaredLogger

	sessions map[string]*Session
	order    []*Session
}

// NewHub creates sessions for every configured network, registering them
// in networks, and subscribes the core state handlers and the command
// router to the bus. Call it before any service module subscribes so that
// core handlers run first.
func NewHub(cfg *config.Config, bus *hook.Bus, networks *state.Registry, audit *storage.AuditLog, log *zap.SugaredLogger, verbose bool) (*Hub, error) {
	h := &Hub{
		cfg:      cfg,
		bus:      bus,
		networks: networks,
		commands: command.NewRegistry(),
		audit:    audit,
		log:      log.Named("irc"),
		sessions: make(map[string]*Session),
	}

	if err := registerCoreHandlers(bus); err != nil {
		return nil, err
	}
	if _, err := hook.On(bus, hook.Privmsg, "irc.commands", h.onMessage); err != nil {
		return nil, err
	}
	if err := h.registerBuiltins(); err != nil {
		return nil, err
	}

	for _, nc := range cfg.Networks {
		n := state.NewNetwork(nc.Name)
		if err := networks.Add(n); err != nil {
			return nil, err
		}
		s := newSession(h, nc, n, verbose)
		h.sessions[nc.Name] = s
		h.order = append(h.order, s)
	}
	return h, nil
}

// RegisterCommands adds service module commands to the router
func (h *Hub) RegisterCommands(cmds ...*command.Command) error {
	for _, cmd := range cmds {
		if err := h.commands.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Run connects every network and blocks until ctx is cancelled and all
// sessions have quit
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range h.order {
		s := s
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

func (h *Hub) session(n *state.Network) (*Session, error) {
	s, ok := h.sessions[n.Name]
	if !ok {
		return nil, fmt.Errorf("no session for network %s", n.Name)
	}
	return s, nil
}

// ApplyModes sends prefix mode changes for channel on n. Arguments are
// UIDs. Changes sent as the bot go out as MODE; anything else uses the
// oper override SAMODE.
func (h *Hub) ApplyModes(n *state.Network, actor, channel string, changes []state.ModeChange) error {
	s, err := h.session(n)
	if err != nil {
		return err
	}
	return s.applyModes(actor, channel, changes)
}

// Join puts the bot in channel on n, with SAJOIN when actor is not the bot
func (h *Hub) Join(n *state.Network, actor, channel string) error {
	s, err := h.session(n)
	if err != nil {
		return err
	}
	return s.join(actor, channel)
}
