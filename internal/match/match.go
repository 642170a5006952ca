// Package match decides whether a user on a network matches an access
// pattern. Patterns are either hostmasks (nick!ident@host globs) or
// extended targets of the form $kind[:value].
//
// Matching never fails: unknown kinds, malformed patterns and missing user
// data are all simply no-match.
package match

import (
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/dalnet/nexuslink/internal/acl"
	"github.com/dalnet/nexuslink/internal/state"
)

// Entries is the access list lookup used by $channel:#chan:access
type Entries interface {
	Get(key acl.Key) []acl.Entry
}

// Matcher evaluates patterns against users
type Matcher struct {
	entries Entries
	log     *zap.SugaredLogger
}

// New creates a matcher. entries may be nil, in which case access list
// delegation never matches.
func New(entries Entries, log *zap.SugaredLogger) *Matcher {
	return &Matcher{entries: entries, log: log.Named("match")}
}

type visitSet map[acl.Key]struct{}

// Match reports whether u matches pattern on network n
func (m *Matcher) Match(n *state.Network, pattern string, u *state.User) bool {
	return m.match(n, pattern, u, make(visitSet))
}

// MatchIn is Match for a pattern taken from channel's own access list.
// The channel counts as visited, so a pattern delegating back to it does
// not match.
func (m *Matcher) MatchIn(n *state.Network, channel, pattern string, u *state.User) bool {
	visited := visitSet{acl.Key{Network: n.Name, Channel: n.Fold(channel)}: {}}
	return m.match(n, pattern, u, visited)
}

func (m *Matcher) match(n *state.Network, pattern string, u *state.User, visited visitSet) bool {
	if pattern == "" || u == nil {
		return false
	}
	if strings.HasPrefix(pattern, "$") {
		return m.matchExtended(n, pattern[1:], u, visited)
	}
	return matchHostmask(n, pattern, u)
}

func (m *Matcher) matchExtended(n *state.Network, target string, u *state.User, visited visitSet) bool {
	kind, value, hasValue := strings.Cut(target, ":")

	switch strings.ToLower(kind) {
	case "account":
		if u.Account == "" {
			return false
		}
		return !hasValue || n.Fold(value) == n.Fold(u.Account)

	case "oper":
		if u.OperType == "" && !u.IsOper() {
			return false
		}
		return !hasValue || Glob(strings.ToLower(value), strings.ToLower(u.OperType))

	case "server":
		return hasValue && u.Server != "" && Glob(strings.ToLower(value), strings.ToLower(u.Server))

	case "realname":
		return hasValue && Glob(n.Fold(value), n.Fold(u.Realname))

	case "network":
		return hasValue && strings.EqualFold(value, n.Name)

	case "channel":
		return hasValue && m.matchChannel(n, value, u, visited)

	case "and":
		return hasValue && m.matchAnd(n, value, u, visited)

	default:
		m.log.Debugw("Unknown extended target", "kind", kind, "network", n.Name)
		return false
	}
}

// matchChannel handles "#chan", "#chan:op", "#chan:<letters>" and
// "#chan:access[:letters]"
func (m *Matcher) matchChannel(n *state.Network, value string, u *state.User, visited visitSet) bool {
	channel, rest, _ := strings.Cut(value, ":")
	if !n.IsChannel(channel) {
		return false
	}

	if access, letters, _ := strings.Cut(rest, ":"); strings.EqualFold(access, "access") {
		return m.matchAccess(n, channel, letters, u, visited)
	}

	ch, ok := n.Channel(channel)
	if !ok || !ch.HasUser(u.UID) {
		return false
	}
	if rest == "" {
		return true
	}
	if letter, ok := state.PrefixLetterByName(rest); ok {
		return ch.HasPrefix(u.UID, letter)
	}
	for i := 0; i < len(rest); i++ {
		if !ch.HasPrefix(u.UID, rest[i]) {
			return false
		}
	}
	return true
}

// matchAccess delegates to another channel's access list. A
// (network, channel) already on the current delegation path is a cycle;
// sibling branches may each visit it.
func (m *Matcher) matchAccess(n *state.Network, channel, letters string, u *state.User, visited visitSet) bool {
	if m.entries == nil {
		return false
	}
	key := acl.Key{Network: n.Name, Channel: n.Fold(channel)}
	if _, seen := visited[key]; seen {
		m.log.Debugw("Access delegation cycle", "network", n.Name, "channel", channel)
		return false
	}
	visited[key] = struct{}{}
	defer delete(visited, key)

	for _, e := range m.entries.Get(key) {
		if !containsAll(e.Modes, letters) {
			continue
		}
		if m.match(n, e.Mask, u, visited) {
			return true
		}
	}
	return false
}

// matchAnd handles "(p1+p2+...)"; parts may nest their own parentheses
func (m *Matcher) matchAnd(n *state.Network, value string, u *state.User, visited visitSet) bool {
	if len(value) < 2 || value[0] != '(' || value[len(value)-1] != ')' {
		return false
	}
	parts, ok := splitTopLevel(value[1:len(value)-1], '+')
	if !ok || len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !m.match(n, p, u, visited) {
			return false
		}
	}
	return true
}

func splitTopLevel(s string, sep byte) ([]string, bool) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, false
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(parts, s[start:]), true
}

func containsAll(have, want string) bool {
	for i := 0; i < len(want); i++ {
		if strings.IndexByte(have, want[i]) < 0 {
			return false
		}
	}
	return true
}

// Canonical completes a partial hostmask: "nick" becomes "nick!*@*",
// "ident@host" becomes "*!ident@host" and "nick!ident" becomes
// "nick!ident@*". Extended targets are returned unchanged.
func Canonical(pattern string) string {
	if strings.HasPrefix(pattern, "$") {
		return pattern
	}
	hasBang := strings.Contains(pattern, "!")
	hasAt := strings.Contains(pattern, "@")
	switch {
	case hasBang && hasAt:
		return pattern
	case hasAt:
		return "*!" + pattern
	case hasBang:
		return pattern + "@*"
	default:
		return pattern + "!*@*"
	}
}

func matchHostmask(n *state.Network, pattern string, u *state.User) bool {
	pattern = Canonical(pattern)
	nickUser, hostPart, ok := cutLast(pattern, "@")
	if !ok {
		return false
	}

	prefix := n.Fold(u.Nick) + "!" + n.Fold(u.Ident)
	if !Glob(n.Fold(nickUser), prefix) {
		return false
	}

	if cidr, err := netip.ParsePrefix(hostPart); err == nil {
		addr, err := netip.ParseAddr(u.IP)
		return err == nil && cidr.Contains(addr.Unmap())
	}

	hostPart = n.Fold(hostPart)
	for _, host := range []string{u.Host, u.RealHost, u.IP} {
		if host != "" && Glob(hostPart, n.Fold(host)) {
			return true
		}
	}
	return false
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
