package state

import "sort"

// User is a client seen on a network. Empty strings stand for absent
// values: Away is "" when the user is not away, Account is "" when not
// logged in to services, OperType is "" when not an operator.
type User struct {
	UID      string
	Nick     string
	Ident    string
	Host     string
	RealHost string
	IP       string
	Realname string
	Server   string

	Modes    ModeSet
	Channels map[string]struct{} // casefolded channel names

	Away     string
	Account  string
	OperType string
}

// Hostmask returns nick!ident@host
func (u *User) Hostmask() string {
	return u.Nick + "!" + u.Ident + "@" + u.Host
}

// IsOper reports whether the user carries user mode +o
func (u *User) IsOper() bool {
	return u.Modes.Has('o')
}

// Channel is a channel the service bot can see on a network
type Channel struct {
	Name  string // casefolded
	Modes ModeSet
	Users map[string]struct{} // UIDs

	prefixes map[string]string // UID -> prefix mode letters held
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:     name,
		Modes:    make(ModeSet),
		Users:    make(map[string]struct{}),
		prefixes: make(map[string]string),
	}
}

// HasUser reports whether uid is a member
func (c *Channel) HasUser(uid string) bool {
	_, ok := c.Users[uid]
	return ok
}

// PrefixModes returns the prefix mode letters uid holds here
func (c *Channel) PrefixModes(uid string) string {
	return c.prefixes[uid]
}

// HasPrefix reports whether uid holds the given prefix mode
func (c *Channel) HasPrefix(uid string, letter byte) bool {
	for i := 0; i < len(c.prefixes[uid]); i++ {
		if c.prefixes[uid][i] == letter {
			return true
		}
	}
	return false
}

// SetPrefix grants or removes a prefix mode for a member
func (c *Channel) SetPrefix(uid string, letter byte, on bool) {
	if !c.HasUser(uid) {
		return
	}
	held := c.prefixes[uid]
	has := c.HasPrefix(uid, letter)
	switch {
	case on && !has:
		c.prefixes[uid] = held + string(letter)
	case !on && has:
		out := make([]byte, 0, len(held))
		for i := 0; i < len(held); i++ {
			if held[i] != letter {
				out = append(out, held[i])
			}
		}
		if len(out) == 0 {
			delete(c.prefixes, uid)
		} else {
			c.prefixes[uid] = string(out)
		}
	}
}

// Members returns the member UIDs in sorted order
func (c *Channel) Members() []string {
	uids := make([]string, 0, len(c.Users))
	for uid := range c.Users {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}
