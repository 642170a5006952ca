package irc

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

// sourceUser returns the user behind a message's source, creating it when
// it is new
func (s *Session) sourceUser(e ircmsg.Message) (*state.User, bool) {
	nuh, err := e.NUH()
	if err != nil || nuh.Name == "" {
		return nil, false
	}
	return s.net.AddUser(nuh.Name, nuh.User, nuh.Host), true
}

// sourceID returns the UID of a known user, or the raw source for servers
func (s *Session) sourceID(e ircmsg.Message) string {
	if u, ok := s.net.UserByNick(e.Nick()); ok {
		return u.UID
	}
	return e.Source
}

func (s *Session) onJoin(e ircmsg.Message) {
	// JOIN #chan [account :realname] with extended-join
	if len(e.Params) < 1 {
		return
	}
	u, ok := s.sourceUser(e)
	if !ok {
		return
	}
	channel := e.Params[0]
	if len(e.Params) >= 3 {
		if e.Params[1] == "*" {
			u.Account = ""
		} else {
			u.Account = e.Params[1]
		}
		u.Realname = e.Params[2]
	}

	if s.isSelf(u.Nick) {
		s.net.BotUID = u.UID
		if _, err := s.net.AddMember(channel, u.UID); err != nil {
			s.log.Warnw("Could not track own join", "channel", channel, "error", err)
			return
		}
		s.log.Infow("Joined channel", "channel", channel)
		// members are announced once WHO completes
		s.out.Send("MODE", channel)
		if s.whox {
			s.out.Send("WHO", channel, "%tcuihsnfar,"+whoxToken)
		} else {
			s.out.Send("WHO", channel)
		}
		return
	}

	// Only channels the bot is in are tracked
	ch, known := s.net.Channel(channel)
	if !known || !ch.HasUser(s.net.BotUID) {
		return
	}
	if _, err := s.net.AddMember(channel, u.UID); err != nil {
		return
	}
	s.dispatch(u.UID, hook.Join, &hook.JoinPayload{
		Channel: ch.Name,
		Users:   []string{u.UID},
		Modes:   ch.Modes.Clone(),
	})
}

func (s *Session) onPart(e ircmsg.Message) {
	if len(e.Params) < 1 {
		return
	}
	u, ok := s.net.UserByNick(e.Nick())
	if !ok {
		return
	}
	channel := e.Params[0]
	reason := ""
	if len(e.Params) > 1 {
		reason = e.Params[1]
	}
	uid := u.UID
	s.net.RemoveMember(channel, uid)
	s.dispatch(uid, hook.Part, &hook.PartPayload{Channel: s.net.Fold(channel), Reason: reason})
}

func (s *Session) onKick(e ircmsg.Message) {
	// KICK #chan target :reason
	if len(e.Params) < 2 {
		return
	}
	target, ok := s.net.UserByNick(e.Params[1])
	if !ok {
		return
	}
	channel := e.Params[0]
	reason := ""
	if len(e.Params) > 2 {
		reason = e.Params[2]
	}
	source := s.sourceID(e)
	uid := target.UID
	s.net.RemoveMember(channel, uid)
	s.dispatch(source, hook.Kick, &hook.KickPayload{Channel: s.net.Fold(channel), Target: uid, Reason: reason})
}

func (s *Session) onQuit(e ircmsg.Message) {
	u, ok := s.net.UserByNick(e.Nick())
	if !ok {
		return
	}
	reason := ""
	if len(e.Params) > 0 {
		reason = e.Params[0]
	}
	channels := make([]string, 0, len(u.Channels))
	for name := range u.Channels {
		channels = append(channels, name)
	}
	uid := u.UID
	delete(s.admins, s.net.Fold(u.Nick))
	s.net.RemoveUser(uid)
	s.dispatch(uid, hook.Quit, &hook.QuitPayload{Reason: reason, Channels: channels})
}

func (s *Session) onNick(e ircmsg.Message) {
	if len(e.Params) < 1 {
		return
	}
	oldNick, newNick := e.Nick(), e.Params[0]
	if s.admins[s.net.Fold(oldNick)] {
		delete(s.admins, s.net.Fold(oldNick))
		s.out.Send("WATCH", "-"+oldNick)
	}
	u, ok := s.net.UserByNick(oldNick)
	if !ok {
		return
	}
	s.net.RenameUser(u, newNick)
	s.dispatch(u.UID, hook.Nick, &hook.NickPayload{OldNick: oldNick, NewNick: newNick})
}

func (s *Session) onMode(e ircmsg.Message) {
	// MODE <target> <modes> [args...]
	if len(e.Params) < 2 {
		return
	}
	target := e.Params[0]
	if !s.net.IsChannel(target) {
		if s.isSelf(target) {
			s.applyUserModes(target, e.Params[1])
		}
		return
	}
	ch, ok := s.net.Channel(target)
	if !ok {
		return
	}
	changes := s.resolveModes(state.ParseModes(e.Params[1], e.Params[2:], s.net.ChanModes, s.net.Prefixes))
	s.net.ApplyChannelModes(target, changes)
	s.dispatch(s.sourceID(e), hook.Mode, &hook.ModePayload{Target: ch.Name, Changes: changes})
}

// resolveModes turns prefix mode arguments from nicks into UIDs, dropping
// changes for users we do not know
func (s *Session) resolveModes(changes []state.ModeChange) []state.ModeChange {
	out := changes[:0]
	for _, c := range changes {
		if s.net.Prefixes.IsPrefix(c.Letter) {
			u, ok := s.net.UserByNick(c.Arg)
			if !ok {
				continue
			}
			c.Arg = u.UID
		}
		out = append(out, c)
	}
	return out
}

func (s *Session) applyUserModes(nick, modes string) {
	u, ok := s.net.UserByNick(nick)
	if !ok {
		return
	}
	adding := true
	for i := 0; i < len(modes); i++ {
		switch modes[i] {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			if adding {
				u.Modes.Add(state.Mode{Letter: modes[i]})
			} else {
				u.Modes.Remove(state.Mode{Letter: modes[i]})
			}
		}
	}
}

func (s *Session) onChannelModes(e ircmsg.Message) {
	// 324 <me> #chan <modes> [args...]
	if len(e.Params) < 3 {
		return
	}
	changes := state.ParseModes(e.Params[2], e.Params[3:], s.net.ChanModes, s.net.Prefixes)
	s.net.ApplyChannelModes(e.Params[1], changes)
}

func (s *Session) onAccount(e ircmsg.Message) {
	// ACCOUNT <name>, or * on logout
	if len(e.Params) < 1 {
		return
	}
	u, ok := s.net.UserByNick(e.Nick())
	if !ok {
		return
	}
	account := e.Params[0]
	if account == "*" {
		account = ""
	}
	s.dispatch(u.UID, hook.ServicesLogin, &hook.LoginPayload{Account: account})
}

func (s *Session) onAway(e ircmsg.Message) {
	u, ok := s.net.UserByNick(e.Nick())
	if !ok {
		return
	}
	u.Away = ""
	if len(e.Params) > 0 {
		u.Away = e.Params[0]
	}
}

func (s *Session) onChghost(e ircmsg.Message) {
	// CHGHOST <user> <host>
	if len(e.Params) < 2 {
		return
	}
	if _, ok := s.net.UserByNick(e.Nick()); !ok {
		return
	}
	s.net.AddUser(e.Nick(), e.Params[0], e.Params[1])
}

func (s *Session) onNames(e ircmsg.Message) {
	// 353 <me> <symbol> #chan :[prefixes]nick[!user@host] ...
	if len(e.Params) < 4 {
		return
	}
	channel := e.Params[2]
	if ch, ok := s.net.Channel(channel); !ok || !ch.HasUser(s.net.BotUID) {
		return
	}
	for _, entry := range strings.Fields(e.Params[3]) {
		letters, rest := s.splitPrefixes(entry)
		nuh, err := ircmsg.ParseNUH(rest)
		if err != nil || nuh.Name == "" {
			continue
		}
		u := s.net.AddUser(nuh.Name, nuh.User, nuh.Host)
		s.addMember(channel, u, letters)
	}
}

// splitPrefixes strips leading prefix symbols, returning their mode letters
func (s *Session) splitPrefixes(entry string) (string, string) {
	var letters []byte
	i := 0
	for ; i < len(entry); i++ {
		letter, ok := s.net.Prefixes.LetterFor(entry[i])
		if !ok {
			break
		}
		letters = append(letters, letter)
	}
	return string(letters), entry[i:]
}

func (s *Session) addMember(channel string, u *state.User, letters string) {
	ch, err := s.net.AddMember(channel, u.UID)
	if err != nil {
		return
	}
	for i := 0; i < len(letters); i++ {
		ch.SetPrefix(u.UID, letters[i], true)
	}
}

// applyWhoFlags handles the H/G, * and prefix flags of a WHO reply
func (s *Session) applyWhoFlags(channel string, u *state.User, flags string) {
	var letters []byte
	for i := 0; i < len(flags); i++ {
		switch c := flags[i]; c {
		case 'H':
			u.Away = ""
		case 'G':
			if u.Away == "" {
				u.Away = "away"
			}
		case '*':
			u.Modes.Add(state.Mode{Letter: 'o'})
		default:
			if letter, ok := s.net.Prefixes.LetterFor(c); ok {
				letters = append(letters, letter)
			}
		}
	}
	if ch, ok := s.net.Channel(channel); ok && ch.HasUser(s.net.BotUID) {
		s.addMember(channel, u, string(letters))
	}
}

func (s *Session) onWhoReply(e ircmsg.Message) {
	// 352 <me> #chan <user> <host> <server> <nick> <flags> :<hops> <realname>
	if len(e.Params) < 8 {
		return
	}
	u := s.net.AddUser(e.Params[5], e.Params[2], e.Params[3])
	u.Server = e.Params[4]
	if _, realname, ok := strings.Cut(e.Params[7], " "); ok {
		u.Realname = realname
	}
	s.applyWhoFlags(e.Params[1], u, e.Params[6])
}

func (s *Session) onWhoxReply(e ircmsg.Message) {
	// 354 <me> 152 #chan <user> <ip> <host> <server> <nick> <flags> <account> :<realname>
	if len(e.Params) < 11 || e.Params[1] != whoxToken {
		return
	}
	p := e.Params
	u := s.net.AddUser(p[7], p[3], p[5])
	if p[4] != "255.255.255.255" && p[4] != "0" {
		u.IP = p[4]
	}
	u.Server = p[6]
	if p[9] == "0" {
		u.Account = ""
	} else {
		u.Account = p[9]
	}
	u.Realname = p[10]
	s.applyWhoFlags(p[2], u, p[8])
}

func (s *Session) onWhoEnd(e ircmsg.Message) {
	// 315 <me> #chan :End of /WHO list.
	if len(e.Params) < 2 {
		return
	}
	ch, ok := s.net.Channel(e.Params[1])
	if !ok || !ch.HasUser(s.net.BotUID) {
		return
	}
	s.dispatch(s.net.BotUID, hook.Join, &hook.JoinPayload{
		Channel: ch.Name,
		Users:   ch.Members(),
		Modes:   ch.Modes.Clone(),
		Burst:   true,
	})
}
