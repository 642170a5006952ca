package hook

import "github.com/dalnet/nexuslink/internal/state"

// Kind tags an event type on the bus
type Kind string

// Event kinds declared by NewBus. Relay and service variants of JOIN and
// SERVICES_LOGIN carry the same payloads as the plain kinds so subscribers
// can share handlers between them.
const (
	Join               Kind = "JOIN"
	RelayJoin          Kind = "RELAY_JOIN"
	ServiceJoin        Kind = "SERVICE_JOIN"
	AutomodeJoin       Kind = "AUTOMODE_JOIN"
	ServicesLogin      Kind = "SERVICES_LOGIN"
	RelayServicesLogin Kind = "RELAY_SERVICES_LOGIN"
	Mode               Kind = "MODE"
	AutomodeMode       Kind = "AUTOMODE_MODE"
	ClientOpered       Kind = "CLIENT_OPERED"
	EndBurst           Kind = "ENDBURST"
	Disconnect         Kind = "DISCONNECT"
	Part               Kind = "PART"
	Kick               Kind = "KICK"
	Quit               Kind = "QUIT"
	Nick               Kind = "NICK"
	Privmsg            Kind = "PRIVMSG"
)

// JoinPayload is carried by JOIN and its variants
type JoinPayload struct {
	Channel string
	Users   []string      // UIDs
	Modes   state.ModeSet // channel modes when the join happened, may be nil

	// ParseAs is set on synthetic joins so that relay-style consumers can
	// handle them exactly like the named kind.
	ParseAs Kind

	// Burst is set when the users were learned from a channel listing on
	// (re)join rather than from live JOIN lines.
	Burst bool
}

// LoginPayload is carried by SERVICES_LOGIN; the event source is the user
type LoginPayload struct {
	Account string // "" on logout
}

// ModePayload is carried by MODE and AUTOMODE_MODE
type ModePayload struct {
	Target  string
	Changes []state.ModeChange // prefix mode arguments are UIDs
	ParseAs Kind
}

// OperPayload is carried by CLIENT_OPERED; the event source is the user
type OperPayload struct {
	OperType string
}

// NetworkPayload is carried by ENDBURST and DISCONNECT
type NetworkPayload struct {
	ServerID string
	Reason   string
}

// PartPayload is carried by PART; the event source is the departing user
type PartPayload struct {
	Channel string
	Reason  string
}

// KickPayload is carried by KICK
type KickPayload struct {
	Channel string
	Target  string // UID
	Reason  string
}

// QuitPayload is carried by QUIT; Channels lists where the user was
type QuitPayload struct {
	Reason   string
	Channels []string
}

// NickPayload is carried by NICK
type NickPayload struct {
	OldNick string
	NewNick string
}

// MessagePayload is carried by PRIVMSG
type MessagePayload struct {
	Target   string
	Text     string
	Hostmask string // nick!user@host of the sender as seen on the wire
}

var builtinKinds = map[Kind]any{
	Join:               (*JoinPayload)(nil),
	RelayJoin:          (*JoinPayload)(nil),
	ServiceJoin:        (*JoinPayload)(nil),
	AutomodeJoin:       (*JoinPayload)(nil),
	ServicesLogin:      (*LoginPayload)(nil),
	RelayServicesLogin: (*LoginPayload)(nil),
	Mode:               (*ModePayload)(nil),
	AutomodeMode:       (*ModePayload)(nil),
	ClientOpered:       (*OperPayload)(nil),
	EndBurst:           (*NetworkPayload)(nil),
	Disconnect:         (*NetworkPayload)(nil),
	Part:               (*PartPayload)(nil),
	Kick:               (*KickPayload)(nil),
	Quit:               (*QuitPayload)(nil),
	Nick:               (*NickPayload)(nil),
	Privmsg:            (*MessagePayload)(nil),
}
