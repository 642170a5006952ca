package automode

import (
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

// Synchronize grants channel members the prefix modes their access entries
// call for and returns the changes it submitted. With no uids every member
// of the channel is considered.
//
// Modes are only ever added. Letters a user already holds are sent again,
// so repeating a sync yields the same changes. Users come out in the order
// given (member UID order by default), each user's letters in the
// network's prefix rank order, and letters the network does not support
// are dropped.
func (s *Service) Synchronize(n *state.Network, channel string, uids ...string) []state.ModeChange {
	log := s.log.With("network", n.Name, "channel", channel)

	entries := s.store.Get(s.key(n, channel))
	if len(entries) == 0 {
		return nil
	}
	ch, ok := n.Channel(channel)
	if !ok {
		log.Debugw("Channel not visible, skipping sync")
		return nil
	}
	if len(uids) == 0 {
		uids = ch.Members()
	}

	var changes []state.ModeChange
	for _, uid := range uids {
		u, ok := n.User(uid)
		if !ok || !ch.HasUser(uid) {
			log.Debugw("Skipping non-member", "uid", uid)
			continue
		}

		var granted string
		for _, e := range entries {
			if s.matcher.MatchIn(n, channel, e.Mask, u) {
				granted += e.Modes
			}
		}
		letters := n.Prefixes.Filter(granted)
		if letters != granted && granted != "" {
			log.Debugw("Filtered mode list", "nick", u.Nick, "modes", granted, "prefix_modes", letters)
		}
		for i := 0; i < len(letters); i++ {
			changes = append(changes, state.ModeChange{Add: true, Letter: letters[i], Arg: uid})
		}
	}

	if len(changes) == 0 {
		log.Debugw("Nothing to sync", "candidates", len(uids))
		return nil
	}

	actor := s.actor(n)
	modes, _ := state.JoinModes(changes)
	log.Debugw("Sending modes", "actor", actor, "modes", modes, "count", len(changes))
	if err := s.proto.ApplyModes(n, actor, channel, changes); err != nil {
		log.Warnw("Could not apply modes", "actor", actor, "error", err)
	}

	_ = s.bus.Dispatch(n, actor, hook.AutomodeMode, &hook.ModePayload{
		Target:  ch.Name,
		Changes: changes,
		ParseAs: hook.Mode,
	})
	return changes
}
