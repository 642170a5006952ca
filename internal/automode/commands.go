package automode

import (
	"errors"
	"strings"

	"github.com/dalnet/nexuslink/internal/acl"
	"github.com/dalnet/nexuslink/internal/command"
	"github.com/dalnet/nexuslink/internal/state"
)

// Commands returns the access list management commands
func (s *Service) Commands() []*command.Command {
	return []*command.Command{
		{
			Name:    "set",
			Aliases: []string{"setacc", "setaccess"},
			Level:   command.Admin,
			Usage:   "<channel> <mask> <modes>",
			Help:    "assigns prefix modes to a mask, e.g. SET #chan $account:alice o",
			Run:     s.cmdSet,
		},
		{
			Name:    "del",
			Aliases: []string{"delacc", "delaccess"},
			Level:   command.Admin,
			Usage:   "<channel> <mask>",
			Help:    "removes the entry for a mask",
			Run:     s.cmdDel,
		},
		{
			Name:    "list",
			Aliases: []string{"listacc", "listaccess"},
			Level:   command.Oper,
			Usage:   "<channel>",
			Help:    "lists a channel's entries",
			Run:     s.cmdList,
		},
		{
			Name:    "sync",
			Aliases: []string{"syncacc", "syncaccess"},
			Level:   command.Admin,
			Usage:   "<channel>",
			Help:    "applies a channel's entries to everyone in it",
			Run:     s.cmdSync,
		},
		{
			Name:    "clear",
			Aliases: []string{"clearacc", "clearaccess"},
			Level:   command.Admin,
			Usage:   "<channel>",
			Help:    "removes all of a channel's entries",
			Run:     s.cmdClear,
		},
		{
			Name:  "save",
			Level: command.Admin,
			Help:  "writes the access database to disk",
			Run:   s.cmdSave,
		},
	}
}

// withChannel resolves a channel argument and runs fn in the context of
// the network it belongs to. "#chan" names a channel on the caller's
// network and "network#chan" one on another network; the latter runs on a
// new goroutine under that network's lock so that sessions never wait on
// each other.
func (s *Service) withChannel(req *command.Request, arg string, fn func(n *state.Network, channel string)) {
	n, channel := req.Network, arg
	if key, ok := acl.ParseKey(arg); ok {
		remote, found := s.networks.Get(key.Network)
		if !found {
			req.Replyf("Error: Unknown network \x02%s\x02.", key.Network)
			return
		}
		n, channel = remote, key.Channel
	}

	run := func() {
		if !n.IsChannel(channel) {
			req.Replyf("Error: Invalid channel name \x02%s\x02.", arg)
			return
		}
		fn(n, n.Fold(channel))
	}
	if n == req.Network {
		run()
		return
	}
	go n.Serialize(run)
}

func (s *Service) cmdSet(req *command.Request) {
	if len(req.Args) != 3 {
		req.Reply("Error: Invalid arguments given. Needs 3: channel, mask, mode list.")
		return
	}
	mask := req.Args[1]
	modes := strings.TrimPrefix(req.Args[2], "+")
	if modes == "" {
		req.Reply("Error: Invalid arguments given. Needs 3: channel, mask, mode list.")
		return
	}

	s.withChannel(req, req.Args[0], func(n *state.Network, channel string) {
		s.store.Set(s.key(n, channel), mask, modes)
		s.log.Infow("Access entry set", "network", n.Name, "channel", channel, "mask", mask, "modes", modes, "by", req.Hostmask)
		req.Replyf("Done. \x02%s\x02 now has modes \x02%s\x02 in \x02%s\x02.", mask, modes, channel)

		if n.State() == state.Connected {
			s.ensurePresence(n, channel)
		}
	})
}

func (s *Service) cmdDel(req *command.Request) {
	if len(req.Args) != 2 {
		req.Reply("Error: Invalid arguments given. Needs 2: channel, mask")
		return
	}
	mask := req.Args[1]

	s.withChannel(req, req.Args[0], func(n *state.Network, channel string) {
		err := s.store.Unset(s.key(n, channel), mask)
		switch {
		case errors.Is(err, acl.ErrNoEntries):
			req.Replyf("Error: no Automode access entries exist for \x02%s\x02.", channel)
		case errors.Is(err, acl.ErrNoSuchMask):
			req.Replyf("Error: No Automode access entry for \x02%s\x02 exists in \x02%s\x02.", mask, channel)
		default:
			s.log.Infow("Access entry removed", "network", n.Name, "channel", channel, "mask", mask, "by", req.Hostmask)
			req.Replyf("Done. Removed the Automode access entry for \x02%s\x02 in \x02%s\x02.", mask, channel)
		}
	})
}

func (s *Service) cmdList(req *command.Request) {
	if len(req.Args) < 1 {
		req.Reply("Error: Invalid arguments given. Needs 1: channel.")
		return
	}

	s.withChannel(req, req.Args[0], func(n *state.Network, channel string) {
		entries := s.store.Get(s.key(n, channel))
		if len(entries) == 0 {
			req.Replyf("Error: No Automode access entries exist for \x02%s\x02.", channel)
			return
		}
		req.Replyf("Showing Automode entries for \x02%s\x02:", channel)
		for i, e := range entries {
			req.Replyf("[%d] \x02%s\x02 has modes +\x02%s\x02", i+1, e.Mask, e.Modes)
		}
		req.Reply("End of Automode entries list.")
	})
}

func (s *Service) cmdSync(req *command.Request) {
	if len(req.Args) < 1 {
		req.Reply("Error: Invalid arguments given. Needs 1: channel.")
		return
	}

	s.withChannel(req, req.Args[0], func(n *state.Network, channel string) {
		s.Synchronize(n, channel)
		req.Reply("Done.")
	})
}

func (s *Service) cmdClear(req *command.Request) {
	if len(req.Args) < 1 {
		req.Reply("Error: Invalid arguments given. Needs 1: channel.")
		return
	}

	s.withChannel(req, req.Args[0], func(n *state.Network, channel string) {
		if err := s.store.Clear(s.key(n, channel)); err != nil {
			req.Replyf("Error: No Automode access entries exist for \x02%s\x02.", channel)
			return
		}
		s.log.Infow("Access entries cleared", "network", n.Name, "channel", channel, "by", req.Hostmask)
		req.Replyf("Done. Removed all Automode access entries for \x02%s\x02.", channel)
	})
}

func (s *Service) cmdSave(req *command.Request) {
	if err := s.store.Save(); err != nil {
		s.log.Errorw("Could not save access database", "path", s.store.Path(), "error", err)
		req.Replyf("Error: could not save the Automode database: %v", err)
		return
	}
	req.Reply("Done.")
}
