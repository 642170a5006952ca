package state

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// SessionState is the connection state of a network session
type SessionState int32

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Network is the mirrored view of one linked IRC network: its users,
// channels and the protocol features the server advertised.
//
// A Network is owned by its session and is not safe for concurrent use.
// Code running outside the session's own event loop must wrap its access
// in Serialize.
type Network struct {
	Name     string
	ServerID string // name of the server we are attached to
	BotUID   string // UID of the service bot on this network, "" when absent

	Casemap   Casemapping
	Prefixes  PrefixTable
	ChanModes ChanModeTypes
	ChanTypes string

	users    map[string]*User    // UID -> user
	nicks    map[string]string   // folded nick -> UID
	channels map[string]*Channel // folded name -> channel
	nextUID  uint64

	state atomic.Int32
	mu    sync.Mutex
}

// NewNetwork creates an empty network with RFC 1459 defaults
func NewNetwork(name string) *Network {
	return &Network{
		Name:      name,
		Casemap:   CasemapRFC1459,
		Prefixes:  DefaultPrefixes,
		ChanModes: DefaultChanModes,
		ChanTypes: "#&",
		users:     make(map[string]*User),
		nicks:     make(map[string]string),
		channels:  make(map[string]*Channel),
	}
}

// Serialize runs fn while holding the network's dispatch lock
func (n *Network) Serialize(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn()
}

// State returns the current session state
func (n *Network) State() SessionState {
	return SessionState(n.state.Load())
}

// SetState records a session state transition and returns the previous one
func (n *Network) SetState(s SessionState) SessionState {
	return SessionState(n.state.Swap(int32(s)))
}

// Fold casefolds a nick or channel name using the network's casemapping
func (n *Network) Fold(name string) string {
	return n.Casemap(name)
}

// IsChannel reports whether name starts with one of the network's channel
// prefixes
func (n *Network) IsChannel(name string) bool {
	return name != "" && strings.IndexByte(n.ChanTypes, name[0]) >= 0
}

// User looks up a user by UID
func (n *Network) User(uid string) (*User, bool) {
	u, ok := n.users[uid]
	return u, ok
}

// UserByNick looks up a user by nick
func (n *Network) UserByNick(nick string) (*User, bool) {
	uid, ok := n.nicks[n.Fold(nick)]
	if !ok {
		return nil, false
	}
	return n.User(uid)
}

// Bot returns the service bot's user, if it is present
func (n *Network) Bot() (*User, bool) {
	if n.BotUID == "" {
		return nil, false
	}
	return n.User(n.BotUID)
}

// AddUser returns the user with the given nick, creating it if needed.
// Non-empty ident and host values refresh what is known about the user.
func (n *Network) AddUser(nick, ident, host string) *User {
	u, ok := n.UserByNick(nick)
	if !ok {
		n.nextUID++
		u = &User{
			UID:      "U" + strconv.FormatUint(n.nextUID, 10),
			Nick:     nick,
			Modes:    make(ModeSet),
			Channels: make(map[string]struct{}),
		}
		n.users[u.UID] = u
		n.nicks[n.Fold(nick)] = u.UID
	}
	if ident != "" {
		u.Ident = ident
	}
	if host != "" {
		if u.RealHost == "" || u.RealHost == u.Host {
			u.RealHost = host
		}
		u.Host = host
	}
	return u
}

// RenameUser handles a nick change
func (n *Network) RenameUser(u *User, nick string) {
	delete(n.nicks, n.Fold(u.Nick))
	u.Nick = nick
	n.nicks[n.Fold(nick)] = u.UID
}

// RemoveUser forgets a user and its channel memberships
func (n *Network) RemoveUser(uid string) {
	u, ok := n.users[uid]
	if !ok {
		return
	}
	for name := range u.Channels {
		if ch, ok := n.channels[name]; ok {
			delete(ch.Users, uid)
			delete(ch.prefixes, uid)
			n.dropIfEmpty(ch)
		}
	}
	delete(n.nicks, n.Fold(u.Nick))
	delete(n.users, uid)
	if uid == n.BotUID {
		n.BotUID = ""
	}
}

// Channel looks up a channel by name
func (n *Network) Channel(name string) (*Channel, bool) {
	ch, ok := n.channels[n.Fold(name)]
	return ch, ok
}

// Channels returns the folded names of all known channels, sorted
func (n *Network) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for name := range n.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddMember records uid as a member of channel, creating the channel
func (n *Network) AddMember(channel, uid string) (*Channel, error) {
	u, ok := n.users[uid]
	if !ok {
		return nil, fmt.Errorf("unknown user %s", uid)
	}
	name := n.Fold(channel)
	ch, ok := n.channels[name]
	if !ok {
		ch = newChannel(name)
		n.channels[name] = ch
	}
	ch.Users[uid] = struct{}{}
	u.Channels[name] = struct{}{}
	return ch, nil
}

// RemoveMember drops uid from channel. The channel is destroyed when its
// last member leaves, and so is the channel's view entirely when the
// member leaving is the service bot, since nothing more will be heard
// about it. Users who no longer share a channel with the bot are
// forgotten.
func (n *Network) RemoveMember(channel, uid string) {
	name := n.Fold(channel)
	ch, ok := n.channels[name]
	if !ok {
		return
	}
	if uid == n.BotUID {
		n.removeChannel(ch)
		return
	}
	delete(ch.Users, uid)
	delete(ch.prefixes, uid)
	if u, ok := n.users[uid]; ok {
		delete(u.Channels, name)
		n.cleanUser(u)
	}
	n.dropIfEmpty(ch)
}

func (n *Network) removeChannel(ch *Channel) {
	for uid := range ch.Users {
		if u, ok := n.users[uid]; ok {
			delete(u.Channels, ch.Name)
			n.cleanUser(u)
		}
	}
	delete(n.channels, ch.Name)
}

func (n *Network) dropIfEmpty(ch *Channel) {
	if len(ch.Users) == 0 {
		delete(n.channels, ch.Name)
	}
}

func (n *Network) cleanUser(u *User) {
	if len(u.Channels) > 0 || u.UID == n.BotUID {
		return
	}
	delete(n.nicks, n.Fold(u.Nick))
	delete(n.users, u.UID)
}

// ApplyChannelModes applies parsed mode changes to a channel. Prefix mode
// arguments must already be resolved to UIDs.
func (n *Network) ApplyChannelModes(channel string, changes []ModeChange) {
	ch, ok := n.Channel(channel)
	if !ok {
		return
	}
	for _, c := range changes {
		if n.Prefixes.IsPrefix(c.Letter) {
			ch.SetPrefix(c.Arg, c.Letter, c.Add)
			continue
		}
		m := Mode{Letter: c.Letter, Arg: c.Arg}
		if c.Add {
			if strings.IndexByte(n.ChanModes.A, c.Letter) < 0 {
				// single-valued modes replace their previous value
				ch.Modes.Remove(Mode{Letter: c.Letter})
			}
			ch.Modes.Add(m)
		} else {
			ch.Modes.Remove(m)
		}
	}
}

// Reset forgets every user and channel. Called when the session drops so
// that nothing cached survives into the next connection.
func (n *Network) Reset() {
	n.users = make(map[string]*User)
	n.nicks = make(map[string]string)
	n.channels = make(map[string]*Channel)
	n.BotUID = ""
}

// Registry holds the networks the daemon is attached to
type Registry struct {
	mu       sync.RWMutex
	networks map[string]*Network
	order    []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{networks: make(map[string]*Network)}
}

// Add registers a network. Names must be unique.
func (r *Registry) Add(n *Network) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.networks[n.Name]; ok {
		return fmt.Errorf("network %q already registered", n.Name)
	}
	r.networks[n.Name] = n
	r.order = append(r.order, n.Name)
	return nil
}

// Get looks up a network by name
func (r *Registry) Get(name string) (*Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[name]
	return n, ok
}

// All returns every network in registration order
func (r *Registry) All() []*Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Network, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.networks[name])
	}
	return out
}
