package irc

// The IRC event handlers are split across:
// - session.go: Connection lifecycle, ISUPPORT, nick recovery, mode output
// - tracking.go: Channel and user state, bus events
// - commands.go: Oper verification, command routing, built-in commands
// - handlers.go: Core bus handlers that keep state in step with events

/*
Handler Summary:

Connection Events:
- 001 (onWelcome): Registered - records the server identity and the bot user
- 005 (onISupport): PREFIX, CHANMODES, CHANTYPES, CASEMAPPING, MODES, WHOX
- 376/422 (onConnect): End of MOTD / MOTD missing - bot is connected
  - Identifies to NickServ
  - OPERs up
  - Sets user modes
  - Network enters CONNECTED and ENDBURST is dispatched
- disconnect (onDisconnect): state is dropped, DISCONNECT is dispatched and
  the network goes back to CONNECTING until ircevent reconnects

Channel Tracking:
- JOIN (onJoin): Own joins request MODE and WHO; other joins dispatch JOIN
- 353 (onNames), 352/354 (onWhoReply/onWhoxReply): member lists, prefixes,
  accounts, opers, real names
- 315 (onWhoEnd): End of WHO - dispatches JOIN for every member (burst)
- PART, KICK, QUIT, NICK, MODE: state update, then the matching event
- ACCOUNT (onAccount): dispatches SERVICES_LOGIN
- AWAY, CHGHOST, 324: state update only

Private Messages:
- PRIVMSG (onPrivMsg): dispatched on the bus; the hub's router picks up
  private messages
  - Checks if sender is known IRC operator (cached)
  - If not known, initiates WHOIS check
  - If known oper, routes to the command registry

WHOIS Responses:
- 313 (onWhoisOper): RPL_WHOISOPERATOR - User is an IRC operator
  - Caches oper status by hostmask
  - Dispatches CLIENT_OPERED with the oper type
  - Processes pending command
- 318 (onWhoisEnd): RPL_ENDOFWHOIS - End of WHOIS response
  - Cleans up pending check
  - Logs non-oper access attempts

Nick Issues:
- 432/433: switch to the alternate nick, then RELEASE/GHOST and take it back

Admin Session:
- 601 (onWatchLogout): RPL_LOGOFF - WATCH notification
  - Auto-logs out admin if they quit/change nick
*/

import (
	"errors"
	"fmt"

	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/state"
)

// registerCoreHandlers subscribes the handlers that apply identity changes
// to network state. They must be registered before any service module so
// that modules see the updated user.
func registerCoreHandlers(bus *hook.Bus) error {
	var errs []error
	for _, kind := range []hook.Kind{hook.ServicesLogin, hook.RelayServicesLogin} {
		if _, err := hook.On(bus, kind, "core.account", setAccount); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := hook.On(bus, hook.ClientOpered, "core.opertype", setOperType); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setAccount(ev *hook.Event, p *hook.LoginPayload) error {
	u, ok := ev.Network.User(ev.Source)
	if !ok {
		return fmt.Errorf("services login for unknown user %s", ev.Source)
	}
	u.Account = p.Account
	return nil
}

func setOperType(ev *hook.Event, p *hook.OperPayload) error {
	u, ok := ev.Network.User(ev.Source)
	if !ok {
		return fmt.Errorf("oper up for unknown user %s", ev.Source)
	}
	u.OperType = p.OperType
	u.Modes.Add(state.Mode{Letter: 'o'})
	return nil
}
