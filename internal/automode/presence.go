package automode

import (
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

// Reconcile puts the service bot in every channel of n that has access
// entries and resyncs the channels it was already in. It runs whenever a
// network (re)enters the connected state.
func (s *Service) Reconcile(n *state.Network) {
	if st := n.State(); st != state.Connected {
		s.log.Debugw("Network not connected, skipping reconcile", "network", n.Name, "state", st)
		return
	}

	channels := s.store.Channels(n.Name)
	s.log.Infow("Reconciling channels", "network", n.Name, "channels", len(channels))
	for _, channel := range channels {
		if s.ensurePresence(n, channel) {
			s.Synchronize(n, channel)
		}
	}
}

// ensurePresence joins the bot to channel unless it is already there, and
// reports whether it was. A join is followed by a synthetic AUTOMODE_JOIN
// so that relay-style consumers see it like any other join.
func (s *Service) ensurePresence(n *state.Network, channel string) bool {
	bot, ok := n.Bot()
	if !ok {
		s.log.Debugw("No service bot on network, not joining", "network", n.Name, "channel", channel)
		return false
	}

	ch, known := n.Channel(channel)
	if known && ch.HasUser(bot.UID) {
		return true
	}

	s.log.Debugw("Joining channel", "network", n.Name, "channel", channel)
	if err := s.proto.Join(n, bot.UID, channel); err != nil {
		s.log.Warnw("Could not join channel", "network", n.Name, "channel", channel, "error", err)
		return false
	}

	var modes state.ModeSet
	if known {
		modes = ch.Modes.Clone()
	}
	_ = s.bus.Dispatch(n, bot.UID, hook.AutomodeJoin, &hook.JoinPayload{
		Channel: n.Fold(channel),
		Users:   []string{bot.UID},
		Modes:   modes,
		ParseAs: hook.Join,
	})
	return false
}
