// Package automode keeps channel prefix modes in line with the access list.
//
// Users joining a channel, logging in to services or opering up are matched
// against the channel's access entries and granted the prefix modes of
// every entry they match. The service bot is kept in every channel that has
// entries, on every network, across reconnects.
package automode

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dalnet/nexuslink/internal/acl"
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/match"
	"github.com/dalnet/nexuslink/internal/state"
)

// Protocol submits channel actions to a network. actor is either the
// service bot's UID or the network's server identity.
type Protocol interface {
	ApplyModes(n *state.Network, actor, channel string, changes []state.ModeChange) error
	Join(n *state.Network, actor, channel string) error
}

// Service is the Automode module
type Service struct {
	bus      *hook.Bus
	store    *acl.Store
	matcher  *match.Matcher
	proto    Protocol
	networks *state.Registry
	log      *zap.SugaredLogger

	hooks []hook.ID
}

// New creates the service. Nothing happens until Start.
func New(bus *hook.Bus, store *acl.Store, matcher *match.Matcher, proto Protocol, networks *state.Registry, log *zap.SugaredLogger) *Service {
	return &Service{
		bus:      bus,
		store:    store,
		matcher:  matcher,
		proto:    proto,
		networks: networks,
		log:      log.Named("automode"),
	}
}

// Start subscribes to the bus and reconciles every network that is
// already connected
func (s *Service) Start() error {
	if err := s.registerHooks(); err != nil {
		s.Stop()
		return err
	}
	for _, n := range s.networks.All() {
		if n.State() != state.Connected {
			continue
		}
		n.Serialize(func() { s.Reconcile(n) })
	}
	s.log.Infow("Automode started", "channels", s.store.Len())
	return nil
}

// Stop removes the service's bus subscriptions
func (s *Service) Stop() {
	for _, id := range s.hooks {
		s.bus.Unregister(id)
	}
	s.hooks = nil
}

func (s *Service) track(id hook.ID, err error) error {
	if err != nil {
		return err
	}
	s.hooks = append(s.hooks, id)
	return nil
}

func (s *Service) registerHooks() error {
	var errs []error
	add := func(id hook.ID, err error) {
		if err := s.track(id, err); err != nil {
			errs = append(errs, err)
		}
	}

	for _, kind := range []hook.Kind{hook.Join, hook.RelayJoin, hook.ServiceJoin} {
		add(hook.On(s.bus, kind, "automode.join", s.handleJoin))
	}
	for _, kind := range []hook.Kind{hook.ServicesLogin, hook.RelayServicesLogin} {
		add(hook.On(s.bus, kind, "automode.login", s.handleLogin))
	}
	add(hook.On(s.bus, hook.ClientOpered, "automode.opered", s.handleOpered))
	add(hook.On(s.bus, hook.EndBurst, "automode.endburst", s.handleEndBurst))
	add(hook.On(s.bus, hook.Disconnect, "automode.disconnect", s.handleDisconnect))
	add(hook.On(s.bus, hook.Kick, "automode.kick", s.handleKick))
	add(hook.On(s.bus, hook.Mode, "automode.protect", s.handleMode))

	return errors.Join(errs...)
}

func (s *Service) key(n *state.Network, channel string) acl.Key {
	return acl.Key{Network: n.Name, Channel: n.Fold(channel)}
}

// actor picks who sends modes on n: the bot when it is on the network,
// the server identity otherwise
func (s *Service) actor(n *state.Network) string {
	if bot, ok := n.Bot(); ok {
		return bot.UID
	}
	return n.ServerID
}
