package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"go.uber.org/zap"

	"github.com/dalnet/nexuslink/internal/config"
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

const (
	retryDelay      = 30 * time.Second
	recoverDelay    = 15 * time.Second
	reclaimDelay    = 2 * time.Second
	defaultMaxModes = 3
	whoxToken       = "152"
)

// sender is the part of the connection the session writes through
type sender interface {
	Send(command string, params ...string) error
	Privmsg(target, message string) error
	SetNick(nick string)
	CurrentNick() string
}

// Session is the bot's connection to one network. Every callback runs
// under the network's Serialize lock, so session fields need no locking of
// their own.
type Session struct {
	hub  *Hub
	cfg  config.Network
	bot  config.Bot
	net  *state.Network
	conn *ircevent.Connection
	out  sender
	log  *zap.SugaredLogger

	handlers map[string]func(ircmsg.Message)
	maxModes int
	whox     bool

	// Oper tracking: hostmask -> is oper
	opers map[string]bool
	// Admin session tracking: folded nick -> is admin
	admins map[string]bool
	// Pending WHOIS checks: folded nick -> {hostmask, message}
	pendingWhois map[string]*pendingCheck

	// background work such as nick recovery stops when quit closes
	quit         chan struct{}
	quitOnce     sync.Once
	workers      sync.WaitGroup
	recoverDelay time.Duration
	reclaimDelay time.Duration
}

type pendingCheck struct {
	nick     string
	hostmask string
	message  string
}

func newSession(h *Hub, nc config.Network, n *state.Network, verbose bool) *Session {
	log := h.log.With("network", nc.Name)
	conn := &ircevent.Connection{
		Server:        nc.Address(),
		Nick:          nc.Nick,
		User:          h.cfg.Bot.Username,
		RealName:      h.cfg.Bot.IRCName,
		Password:      nc.ServerPass,
		QuitMessage:   "Shutting down",
		Debug:         verbose,
		UseTLS:        nc.TLS,
		TLSConfig:     &tls.Config{ServerName: nc.Server},
		ReconnectFreq: retryDelay,
		RequestCaps: []string{
			"account-notify",
			"away-notify",
			"chghost",
			"extended-join",
			"multi-prefix",
			"userhost-in-names",
		},
		Log: zap.NewStdLog(log.Desugar()),
	}
	if nc.SASLLogin != "" {
		conn.UseSASL = true
		conn.SASLLogin = nc.SASLLogin
		conn.SASLPassword = nc.SASLPassword
	}

	s := &Session{
		hub:          h,
		cfg:          nc,
		bot:          h.cfg.Bot,
		net:          n,
		conn:         conn,
		out:          conn,
		log:          log,
		maxModes:     defaultMaxModes,
		opers:        make(map[string]bool),
		admins:       make(map[string]bool),
		pendingWhois: make(map[string]*pendingCheck),
		quit:         make(chan struct{}),
		recoverDelay: recoverDelay,
		reclaimDelay: reclaimDelay,
	}
	s.registerHandlers()
	return s
}

func (s *Session) registerHandlers() {
	s.handlers = map[string]func(ircmsg.Message){
		// Registration and features
		"001": s.onWelcome,
		"005": s.onISupport,
		"376": s.onConnect, // End of MOTD
		"422": s.onConnect, // MOTD missing is also "connected"

		// Channel and user tracking
		"JOIN":    s.onJoin,
		"PART":    s.onPart,
		"KICK":    s.onKick,
		"QUIT":    s.onQuit,
		"NICK":    s.onNick,
		"MODE":    s.onMode,
		"ACCOUNT": s.onAccount,
		"AWAY":    s.onAway,
		"CHGHOST": s.onChghost,
		"324":     s.onChannelModes, // RPL_CHANNELMODEIS
		"352":     s.onWhoReply,     // RPL_WHOREPLY
		"354":     s.onWhoxReply,    // RPL_WHOSPCRPL
		"315":     s.onWhoEnd,       // RPL_ENDOFWHO
		"353":     s.onNames,        // RPL_NAMREPLY

		// Commands and oper verification
		"PRIVMSG": s.onPrivMsg,
		"313":     s.onWhoisOper, // RPL_WHOISOPERATOR
		"318":     s.onWhoisEnd,  // RPL_ENDOFWHOIS
		"601":     s.onWatchLogout,

		// Nick issues
		"432": s.onNickHeld,  // ERR_ERRONEUSNICKNAME
		"433": s.onNickInUse, // ERR_NICKNAMEINUSE

		"CTCP_VERSION": s.onCtcpVersion,
	}

	for code, fn := range s.handlers {
		s.conn.AddCallback(code, s.serialized(fn))
	}
	s.conn.AddDisconnectCallback(s.serialized(s.onDisconnect))
}

func (s *Session) serialized(fn func(ircmsg.Message)) func(ircmsg.Message) {
	return func(e ircmsg.Message) {
		s.net.Serialize(func() { fn(e) })
	}
}

// handle runs the callback registered for e's command, as the connection
// would
func (s *Session) handle(e ircmsg.Message) {
	if fn, ok := s.handlers[e.Command]; ok {
		s.serialized(fn)(e)
	}
}

// Run connects, retrying until it succeeds or ctx is done, then processes
// events until ctx is cancelled. ircevent reconnects dropped connections on
// its own.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()
	s.net.SetState(state.Connecting)
	for {
		err := s.conn.Connect()
		if err == nil {
			break
		}
		s.log.Warnw("Connect failed, retrying", "server", s.cfg.Address(), "error", err, "retry_in", retryDelay)
		select {
		case <-ctx.Done():
			s.net.SetState(state.Disconnected)
			return nil
		case <-time.After(retryDelay):
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Quit()
		case <-done:
		}
	}()

	s.conn.Loop()
	s.net.SetState(state.Disconnected)
	s.log.Infow("Session ended")
	return nil
}

// shutdown stops background work and waits for it to finish
func (s *Session) shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.workers.Wait()
}

// wait sleeps for d and reports false if the session ended first
func (s *Session) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Session) dispatch(source string, kind hook.Kind, payload any) {
	if err := s.hub.bus.Dispatch(s.net, source, kind, payload); err != nil {
		s.log.Errorw("Event dispatch failed", "kind", kind, "error", err)
	}
}

func (s *Session) isSelf(nick string) bool {
	return s.net.Fold(nick) == s.net.Fold(s.out.CurrentNick())
}

func (s *Session) onWelcome(e ircmsg.Message) {
	// 001 <me> :Welcome ...
	s.net.ServerID = e.Source
	nick := s.out.CurrentNick()
	if len(e.Params) > 0 {
		nick = e.Params[0]
	}
	bot := s.net.AddUser(nick, s.bot.Username, "")
	s.net.BotUID = bot.UID
	s.log.Infow("Registered with server", "server", e.Source, "nick", nick)
}

func (s *Session) onConnect(e ircmsg.Message) {
	if s.net.State() == state.Connected {
		return
	}
	s.log.Infow("Connected to IRC server", "server", s.net.ServerID)

	// Identify to NickServ
	if s.cfg.NickPass != "" {
		s.out.Privmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", s.cfg.Nick, s.cfg.NickPass))
	}

	// OPER up
	if s.cfg.OperNick != "" && s.cfg.OperPass != "" {
		s.out.Send("OPER", s.cfg.OperNick, s.cfg.OperPass)
	}

	if s.bot.Usermodes != "" {
		s.out.Send("MODE", s.out.CurrentNick(), s.bot.Usermodes)
	}

	s.net.SetState(state.Connected)
	s.dispatch(s.net.ServerID, hook.EndBurst, &hook.NetworkPayload{ServerID: s.net.ServerID})
	s.log.Infow("Bot initialization complete")
}

func (s *Session) onDisconnect(e ircmsg.Message) {
	prev := s.net.SetState(state.Disconnected)
	s.net.Reset()
	s.opers = make(map[string]bool)
	s.admins = make(map[string]bool)
	s.pendingWhois = make(map[string]*pendingCheck)
	s.log.Warnw("Disconnected from IRC server", "was", prev)

	s.dispatch(s.net.ServerID, hook.Disconnect, &hook.NetworkPayload{ServerID: s.net.ServerID, Reason: "connection lost"})
	s.net.SetState(state.Connecting)
}

func (s *Session) onISupport(e ircmsg.Message) {
	// 005 <me> TOKEN[=value]... :are supported by this server
	if len(e.Params) < 3 {
		return
	}
	for _, token := range e.Params[1 : len(e.Params)-1] {
		key, value, _ := strings.Cut(token, "=")
		switch strings.ToUpper(key) {
		case "PREFIX":
			if p, ok := state.ParsePrefix(value); ok {
				s.net.Prefixes = p
			} else {
				s.log.Warnw("Ignoring malformed PREFIX", "value", value)
			}
		case "CHANMODES":
			s.net.ChanModes = state.ParseChanModes(value)
		case "CHANTYPES":
			if value != "" {
				s.net.ChanTypes = value
			}
		case "CASEMAPPING":
			s.net.Casemap = state.ParseCasemapping(value)
		case "MODES":
			s.maxModes = parseMaxModes(value)
		case "WHOX":
			s.whox = true
		}
	}
}

func parseMaxModes(value string) int {
	if value == "" {
		return 20
	}
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return defaultMaxModes
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return defaultMaxModes
	}
	return n
}

// applyModes sends changes in batches of at most maxModes per line. Only a
// bot holding op or better in channel can use MODE; everything else goes
// through SAMODE.
func (s *Session) applyModes(actor, channel string, changes []state.ModeChange) error {
	command := "SAMODE"
	if actor != "" && actor == s.net.BotUID && s.botIsOp(channel) {
		command = "MODE"
	}

	resolved := make([]state.ModeChange, 0, len(changes))
	for _, c := range changes {
		if s.net.Prefixes.IsPrefix(c.Letter) {
			u, ok := s.net.User(c.Arg)
			if !ok {
				s.log.Debugw("Dropping mode for unknown user", "uid", c.Arg, "channel", channel)
				continue
			}
			c.Arg = u.Nick
		}
		resolved = append(resolved, c)
	}

	var errs []error
	for start := 0; start < len(resolved); start += s.maxModes {
		end := min(start+s.maxModes, len(resolved))
		modes, args := state.JoinModes(resolved[start:end])
		params := append([]string{channel, modes}, args...)
		if err := s.out.Send(command, params...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) botIsOp(channel string) bool {
	ch, ok := s.net.Channel(channel)
	if !ok {
		return false
	}
	return s.net.Prefixes.AtLeast(ch.PrefixModes(s.net.BotUID), 'o')
}

func (s *Session) join(actor, channel string) error {
	if actor == s.net.BotUID && actor != "" {
		return s.out.Send("JOIN", channel)
	}
	return s.out.Send("SAJOIN", s.out.CurrentNick(), channel)
}

func (s *Session) onNickHeld(e ircmsg.Message) {
	s.recoverNick("RELEASE")
}

func (s *Session) onNickInUse(e ircmsg.Message) {
	s.recoverNick("GHOST")
}

func (s *Session) recoverNick(how string) {
	if s.out.CurrentNick() == s.bot.Alternate {
		return
	}
	s.log.Infow("Nick unavailable, switching to alternate", "alternate", s.bot.Alternate)
	s.out.SetNick(s.bot.Alternate)
	if s.cfg.NickPass == "" {
		return
	}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if !s.wait(s.recoverDelay) {
			return
		}
		s.out.Privmsg("NickServ", fmt.Sprintf("%s %s %s", how, s.cfg.Nick, s.cfg.NickPass))
		if !s.wait(s.reclaimDelay) {
			return
		}
		s.log.Infow("Reclaiming nick", "nick", s.cfg.Nick)
		s.out.SetNick(s.cfg.Nick)
	}()
}

func (s *Session) onCtcpVersion(e ircmsg.Message) {
	reply := fmt.Sprintf("nexuslink %s (built %s, commit %s)", Version, BuildDate, GitCommit)
	s.out.Send("NOTICE", e.Nick(), "\x01VERSION "+reply+"\x01")
}
