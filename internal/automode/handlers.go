package automode

import (
	"sort"

	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

func (s *Service) handleJoin(ev *hook.Event, p *hook.JoinPayload) error {
	s.Synchronize(ev.Network, p.Channel, p.Users...)
	return nil
}

func (s *Service) handleLogin(ev *hook.Event, p *hook.LoginPayload) error {
	s.resyncUser(ev.Network, ev.Source)
	return nil
}

func (s *Service) handleOpered(ev *hook.Event, p *hook.OperPayload) error {
	s.resyncUser(ev.Network, ev.Source)
	return nil
}

// resyncUser syncs one user in every channel they occupy
func (s *Service) resyncUser(n *state.Network, uid string) {
	u, ok := n.User(uid)
	if !ok {
		s.log.Debugw("Identity change for unknown user", "network", n.Name, "uid", uid)
		return
	}
	channels := make([]string, 0, len(u.Channels))
	for name := range u.Channels {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	for _, channel := range channels {
		s.Synchronize(n, channel, uid)
	}
}

func (s *Service) handleEndBurst(ev *hook.Event, p *hook.NetworkPayload) error {
	s.Reconcile(ev.Network)
	return nil
}

func (s *Service) handleDisconnect(ev *hook.Event, p *hook.NetworkPayload) error {
	s.log.Infow("Network lost, waiting for reconnect", "network", ev.Network.Name, "reason", p.Reason)
	return nil
}

// handleKick rejoins channels with access entries the bot was kicked from
func (s *Service) handleKick(ev *hook.Event, p *hook.KickPayload) error {
	n := ev.Network
	if n.BotUID == "" || p.Target != n.BotUID {
		return nil
	}
	if len(s.store.Get(s.key(n, p.Channel))) == 0 {
		return nil
	}
	s.log.Infow("Kicked from channel, rejoining", "network", n.Name, "channel", p.Channel, "by", ev.Source)
	s.ensurePresence(n, p.Channel)
	return nil
}

// handleMode asks for the bot's +o back through the server identity when
// someone else takes it away in a channel with access entries
func (s *Service) handleMode(ev *hook.Event, p *hook.ModePayload) error {
	n := ev.Network
	if n.BotUID == "" || ev.Source == n.BotUID || !n.IsChannel(p.Target) {
		return nil
	}
	if len(s.store.Get(s.key(n, p.Target))) == 0 {
		return nil
	}

	for _, c := range p.Changes {
		if c.Add || c.Letter != 'o' || c.Arg != n.BotUID {
			continue
		}
		s.log.Infow("Bot deopped, requesting op back", "network", n.Name, "channel", p.Target, "by", ev.Source)
		restore := []state.ModeChange{{Add: true, Letter: 'o', Arg: n.BotUID}}
		if err := s.proto.ApplyModes(n, n.ServerID, p.Target, restore); err != nil {
			s.log.Warnw("Could not restore op", "network", n.Name, "channel", p.Target, "error", err)
		}
		return nil
	}
	return nil
}
