package irc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/nexuslink/internal/command"
	"github.com/dalnet/nexuslink/internal/hook"
)

func (s *Session) onPrivMsg(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	nuh, err := e.NUH()
	if err != nil {
		return
	}
	s.dispatch(s.sourceID(e), hook.Privmsg, &hook.MessagePayload{
		Target:   e.Params[0],
		Text:     e.Params[1],
		Hostmask: nuh.Canonical(),
	})
}

// onMessage is the bus side of PRIVMSG: private messages from verified
// IRC operators are commands
func (h *Hub) onMessage(ev *hook.Event, p *hook.MessagePayload) error {
	s, err := h.session(ev.Network)
	if err != nil {
		return err
	}
	// Only respond to private messages (not channel messages)
	if !s.isSelf(p.Target) || strings.HasPrefix(p.Text, "\x01") {
		return nil
	}
	nuh, err := ircmsg.ParseNUH(p.Hostmask)
	if err != nil {
		return err
	}
	s.handleMessage(nuh.Name, p.Hostmask, p.Text)
	return nil
}

func (s *Session) handleMessage(nick, hostmask, message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	if s.opers[hostmask] {
		// Known oper, process command directly
		s.handleCommand(nick, hostmask, message)
		return
	}

	// Unknown user, initiate WHOIS check
	s.pendingWhois[s.net.Fold(nick)] = &pendingCheck{nick: nick, hostmask: hostmask, message: message}
	s.out.Send("WHOIS", nick)
}

func (s *Session) onWhoisOper(e ircmsg.Message) {
	// 313 <me> <nick> :is an IRC operator
	if len(e.Params) < 2 {
		return
	}
	nick := e.Params[1]

	if len(e.Params) > 2 {
		if u, ok := s.net.UserByNick(nick); ok {
			s.dispatch(u.UID, hook.ClientOpered, &hook.OperPayload{OperType: operType(e.Params[2])})
		}
	}

	pending := s.pendingWhois[s.net.Fold(nick)]
	if pending == nil {
		return
	}
	s.opers[pending.hostmask] = true
	delete(s.pendingWhois, s.net.Fold(nick))

	// Process the pending command
	s.handleCommand(pending.nick, pending.hostmask, pending.message)
}

// operType turns "is an IRC Operator" into "IRC Operator"
func operType(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"is an ", "is a ", "is "} {
		if len(text) > len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			return text[len(prefix):]
		}
	}
	return text
}

func (s *Session) onWhoisEnd(e ircmsg.Message) {
	// 318 <me> <nick> :End of /WHOIS list
	if len(e.Params) < 2 {
		return
	}
	key := s.net.Fold(e.Params[1])
	pending := s.pendingWhois[key]
	delete(s.pendingWhois, key)

	// No 313 came back: not an oper, log the attempt
	if pending != nil {
		s.logCommand(pending.hostmask, "USER - "+pending.message)
	}
}

// handleCommand processes a command from a verified IRC operator
func (s *Session) handleCommand(nick, hostmask, message string) {
	name, args, ok := command.Parse(message)
	if !ok {
		return
	}
	if name != "login" && name != "su" {
		s.logCommand(hostmask, message)
	}

	req := command.NewRequest(s.net, nick, hostmask, s.admins[s.net.Fold(nick)], name, args, func(text string) {
		s.out.Privmsg(nick, text)
	})
	if !s.hub.commands.Dispatch(req) {
		s.out.Privmsg(nick, fmt.Sprintf("Unknown command \x02%s\x02. Type !help for a list of commands", name))
	}
}

func (s *Session) logCommand(hostmask, text string) {
	if err := s.hub.audit.Record(s.net.Name, hostmask, text); err != nil {
		s.log.Warnw("Error saving audit log", "error", err)
	}
}

func (s *Session) onWatchLogout(e ircmsg.Message) {
	// 601 <me> <nick> <user> <host> <timestamp> :logged out
	if len(e.Params) < 2 {
		return
	}
	nick := e.Params[1]
	if s.admins[s.net.Fold(nick)] {
		delete(s.admins, s.net.Fold(nick))
		s.log.Infow("Admin logged off, session ended", "nick", nick)
	}
	s.out.Send("WATCH", "-"+nick)
}

func (h *Hub) registerBuiltins() error {
	return h.RegisterCommands(
		command.HelpCommand(h.commands),
		&command.Command{
			Name:    "login",
			Aliases: []string{"su"},
			Usage:   "<password>",
			Help:    "starts an admin session",
			Run:     h.cmdLogin,
		},
		&command.Command{
			Name:  "logout",
			Level: command.Admin,
			Help:  "ends your admin session",
			Run:   h.cmdLogout,
		},
		&command.Command{
			Name: "version",
			Help: "displays bot version information",
			Run:  h.cmdVersion,
		},
		&command.Command{
			Name: "networks",
			Help: "shows the linked networks and their connection state",
			Run:  h.cmdNetworks,
		},
		&command.Command{
			Name:  "audit",
			Level: command.Admin,
			Usage: "[count]",
			Help:  "displays the most recent commands issued to me",
			Run:   h.cmdAudit,
		},
	)
}

func (h *Hub) requestSession(req *command.Request) *Session {
	s, err := h.session(req.Network)
	if err != nil {
		req.Reply("Error: this network has no session")
		return nil
	}
	return s
}

func (h *Hub) cmdLogin(req *command.Request) {
	s := h.requestSession(req)
	if s == nil {
		return
	}
	if len(req.Args) < 1 {
		req.Reply("Usage: !login <password>")
		return
	}

	if h.cfg.AdminPass != "" && req.Args[0] == h.cfg.AdminPass {
		s.admins[s.net.Fold(req.Nick)] = true
		s.out.Send("WATCH", "+"+req.Nick)
		req.Reply("Password accepted, you are now an admin. Type !help for a list of admin-only commands")
		s.logCommand(req.Hostmask, "successful login")
	} else {
		req.Reply("Password incorrect")
		s.logCommand(req.Hostmask, "INCORRECT LOGIN ATTEMPT")
	}
}

func (h *Hub) cmdLogout(req *command.Request) {
	s := h.requestSession(req)
	if s == nil {
		return
	}
	delete(s.admins, s.net.Fold(req.Nick))
	s.out.Send("WATCH", "-"+req.Nick)
	req.Reply("You have been logged out")
}

func (h *Hub) cmdVersion(req *command.Request) {
	req.Replyf("nexuslink version %s", Version)
	req.Replyf("Built: %s", BuildDate)
	req.Replyf("Commit: %s", GitCommit)
}

func (h *Hub) cmdNetworks(req *command.Request) {
	for _, s := range h.order {
		req.Replyf("\x02%s\x02: %s (%s)", s.net.Name, s.net.State(), s.cfg.Address())
	}
}

func (h *Hub) cmdAudit(req *command.Request) {
	count := 10
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			count = n
		}
	}
	entries := h.audit.Recent(count)
	req.Replyf("The last \x02%d\x02 commands:", len(entries))
	for _, entry := range entries {
		req.Reply(entry)
	}
}
