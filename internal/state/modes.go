package state

import (
	"sort"
	"strings"
)

// Mode is a single (letter, argument) pair. Arg is empty for modes without
// a parameter.
type Mode struct {
	Letter byte
	Arg    string
}

// ModeSet is a set of user or channel modes
type ModeSet map[Mode]struct{}

// Has reports whether any mode with the given letter is set
func (s ModeSet) Has(letter byte) bool {
	for m := range s {
		if m.Letter == letter {
			return true
		}
	}
	return false
}

// Add sets a mode
func (s ModeSet) Add(m Mode) {
	s[m] = struct{}{}
}

// Remove unsets a mode. An empty Arg removes every mode with that letter,
// which is how -l and -k arrive on most servers.
func (s ModeSet) Remove(m Mode) {
	if m.Arg != "" {
		delete(s, m)
		return
	}
	for have := range s {
		if have.Letter == m.Letter {
			delete(s, have)
		}
	}
}

// Clone returns an independent copy of the set
func (s ModeSet) Clone() ModeSet {
	out := make(ModeSet, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out
}

// String renders the set as "+ntl 10" with letters sorted
func (s ModeSet) String() string {
	modes := make([]Mode, 0, len(s))
	for m := range s {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool {
		if modes[i].Letter != modes[j].Letter {
			return modes[i].Letter < modes[j].Letter
		}
		return modes[i].Arg < modes[j].Arg
	})

	var letters strings.Builder
	var args []string
	letters.WriteByte('+')
	for _, m := range modes {
		letters.WriteByte(m.Letter)
		if m.Arg != "" {
			args = append(args, m.Arg)
		}
	}
	return strings.Join(append([]string{letters.String()}, args...), " ")
}

// ModeChange is one +/- step of a MODE command
type ModeChange struct {
	Add    bool
	Letter byte
	Arg    string
}

// String renders the change as "+o" or "-v", without its argument
func (c ModeChange) String() string {
	if c.Add {
		return "+" + string(c.Letter)
	}
	return "-" + string(c.Letter)
}

// JoinModes renders a list of changes as a single mode string and its
// argument list, e.g. "+ov-v" ["alice", "alice", "bob"]
func JoinModes(changes []ModeChange) (string, []string) {
	var sb strings.Builder
	var args []string
	sign := byte(0)
	for _, c := range changes {
		want := byte('-')
		if c.Add {
			want = '+'
		}
		if want != sign {
			sb.WriteByte(want)
			sign = want
		}
		sb.WriteByte(c.Letter)
		if c.Arg != "" {
			args = append(args, c.Arg)
		}
	}
	return sb.String(), args
}

// PrefixTable is the network's PREFIX=(modes)symbols table, highest rank
// first
type PrefixTable struct {
	Letters string
	Symbols string
}

// DefaultPrefixes is what RFC 1459 servers support when they send no PREFIX
var DefaultPrefixes = PrefixTable{Letters: "ov", Symbols: "@+"}

var prefixNames = map[string]byte{
	"owner":  'q',
	"admin":  'a',
	"op":     'o',
	"halfop": 'h',
	"voice":  'v',
}

// ParsePrefix parses an ISUPPORT PREFIX value such as "(qaohv)~&@%+"
func ParsePrefix(value string) (PrefixTable, bool) {
	if value == "" {
		return PrefixTable{}, true
	}
	if !strings.HasPrefix(value, "(") {
		return PrefixTable{}, false
	}
	end := strings.IndexByte(value, ')')
	if end < 0 {
		return PrefixTable{}, false
	}
	letters := value[1:end]
	symbols := value[end+1:]
	if len(letters) != len(symbols) {
		return PrefixTable{}, false
	}
	return PrefixTable{Letters: letters, Symbols: symbols}, true
}

// IsPrefix reports whether letter is a prefix (privilege) mode
func (p PrefixTable) IsPrefix(letter byte) bool {
	return strings.IndexByte(p.Letters, letter) >= 0
}

// AtLeast reports whether held contains letter or a prefix mode that ranks
// above it. Unknown letters rank below everything.
func (p PrefixTable) AtLeast(held string, letter byte) bool {
	rank := strings.IndexByte(p.Letters, letter)
	if rank < 0 {
		return false
	}
	for i := 0; i < len(held); i++ {
		if r := strings.IndexByte(p.Letters, held[i]); r >= 0 && r <= rank {
			return true
		}
	}
	return false
}

// LetterFor maps a display symbol such as '@' to its mode letter
func (p PrefixTable) LetterFor(symbol byte) (byte, bool) {
	i := strings.IndexByte(p.Symbols, symbol)
	if i < 0 {
		return 0, false
	}
	return p.Letters[i], true
}

// Filter keeps the prefix mode letters out of letters, deduplicated and
// in rank order. Letters the network does not know are dropped.
func (p PrefixTable) Filter(letters string) string {
	var sb strings.Builder
	for i := 0; i < len(p.Letters); i++ {
		if strings.IndexByte(letters, p.Letters[i]) >= 0 {
			sb.WriteByte(p.Letters[i])
		}
	}
	return sb.String()
}

// PrefixLetterByName resolves names like "op" and "voice" to mode letters
func PrefixLetterByName(name string) (byte, bool) {
	letter, ok := prefixNames[strings.ToLower(name)]
	return letter, ok
}

// ChanModeTypes is the ISUPPORT CHANMODES=A,B,C,D classification
type ChanModeTypes struct {
	A string // list modes, always take an argument
	B string // always take an argument
	C string // take an argument only when set
	D string // never take an argument
}

// DefaultChanModes is used until the server sends CHANMODES
var DefaultChanModes = ChanModeTypes{A: "beI", B: "k", C: "l", D: "imnpst"}

// ParseChanModes parses an ISUPPORT CHANMODES value
func ParseChanModes(value string) ChanModeTypes {
	parts := strings.SplitN(value, ",", 5)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return ChanModeTypes{A: parts[0], B: parts[1], C: parts[2], D: parts[3]}
}

func (t ChanModeTypes) takesArg(letter byte, adding bool, prefixes PrefixTable) bool {
	switch {
	case prefixes.IsPrefix(letter),
		strings.IndexByte(t.A, letter) >= 0,
		strings.IndexByte(t.B, letter) >= 0:
		return true
	case strings.IndexByte(t.C, letter) >= 0:
		return adding
	default:
		return false
	}
}

// ParseModes splits a channel mode string and its arguments into individual
// changes. Missing arguments are left empty rather than failing the parse.
func ParseModes(modes string, args []string, types ChanModeTypes, prefixes PrefixTable) []ModeChange {
	var changes []ModeChange
	adding := true
	for i := 0; i < len(modes); i++ {
		switch modes[i] {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}
		change := ModeChange{Add: adding, Letter: modes[i]}
		if types.takesArg(modes[i], adding, prefixes) && len(args) > 0 {
			change.Arg = args[0]
			args = args[1:]
		}
		changes = append(changes, change)
	}
	return changes
}
