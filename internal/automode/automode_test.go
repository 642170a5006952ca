package automode

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dalnet/nexuslink/internal/acl"
	"github.com/dalnet/nexuslink/internal/command"
	"github.com/dalnet/nexuslink/internal/hook"
	"github.com/dalnet/nexuslink/internal/match"
	"github.com/dalnet/nexuslink/internal/state"
)

type call struct {
	kind    string
	actor   string
	channel string
	changes []state.ModeChange
}

type fakeProto struct {
	calls []call
}

func (f *fakeProto) ApplyModes(n *state.Network, actor, channel string, changes []state.ModeChange) error {
	f.calls = append(f.calls, call{kind: "mode", actor: actor, channel: channel, changes: changes})
	return nil
}

func (f *fakeProto) Join(n *state.Network, actor, channel string) error {
	f.calls = append(f.calls, call{kind: "join", actor: actor, channel: channel})
	return nil
}

func (f *fakeProto) modes() []call {
	var out []call
	for _, c := range f.calls {
		if c.kind == "mode" {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	bus      *hook.Bus
	store    *acl.Store
	proto    *fakeProto
	svc      *Service
	net      *state.Network
	bot      *state.User
	registry *command.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()

	n := state.NewNetwork("dalnet")
	n.ServerID = "irc.dal.net"
	n.Prefixes = state.PrefixTable{Letters: "ohv", Symbols: "@%+"}
	bot := n.AddUser("automode", "svc", "services.dal.net")
	n.BotUID = bot.UID

	networks := state.NewRegistry()
	require.NoError(t, networks.Add(n))

	f := &fixture{
		bus:      hook.NewBus(log),
		store:    acl.NewStore(filepath.Join(t.TempDir(), "automode.db"), log),
		proto:    &fakeProto{},
		net:      n,
		bot:      bot,
		registry: command.NewRegistry(),
	}
	f.svc = New(f.bus, f.store, match.New(f.store, log), f.proto, networks, log)
	require.NoError(t, f.svc.Start())
	for _, cmd := range f.svc.Commands() {
		require.NoError(t, f.registry.Register(cmd))
	}
	t.Cleanup(f.svc.Stop)
	return f
}

func (f *fixture) addUser(nick, host, channel string) *state.User {
	u := f.net.AddUser(nick, nick, host)
	_, _ = f.net.AddMember(channel, u.UID)
	return u
}

func (f *fixture) join(nick, host, channel string) *state.User {
	u := f.addUser(nick, host, channel)
	_ = f.bus.Dispatch(f.net, u.UID, hook.Join, &hook.JoinPayload{Channel: channel, Users: []string{u.UID}})
	return u
}

var bold = regexp.MustCompile("\x02")

func (f *fixture) run(admin bool, text string) []string {
	var lines []string
	name, args, _ := command.Parse(text)
	req := command.NewRequest(f.net, "oper", "oper!o@staff", admin, name, args, func(s string) {
		lines = append(lines, bold.ReplaceAllString(s, ""))
	})
	f.registry.Dispatch(req)
	return lines
}

func TestSyncFiltersToSupportedPrefixes(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@good.host", "qxov")
	u := f.join("alice", "good.host", "#c")

	calls := f.proto.modes()
	require.Len(t, calls, 1)
	assert.Equal(t, []state.ModeChange{
		{Add: true, Letter: 'o', Arg: u.UID},
		{Add: true, Letter: 'v', Arg: u.UID},
	}, calls[0].changes)
}

func TestSyncUnionsMatchingEntries(t *testing.T) {
	f := newFixture(t)
	key := acl.Key{Network: "dalnet", Channel: "#c"}
	f.store.Set(key, "$account:alice", "v")
	f.store.Set(key, "*!*@good.host", "h")
	f.store.Set(key, "*!*@other.host", "o")

	u := f.addUser("alice", "good.host", "#c")
	u.Account = "alice"

	changes := f.svc.Synchronize(f.net, "#C")
	assert.Equal(t, []state.ModeChange{
		{Add: true, Letter: 'h', Arg: u.UID},
		{Add: true, Letter: 'v', Arg: u.UID},
	}, changes, "letters in rank order, non-matching entry ignored")
}

func TestSyncIsIdempotentAndGrantOnly(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@good.host", "o")
	alice := f.addUser("alice", "good.host", "#c")
	bob := f.addUser("bob", "bad.host", "#c")
	f.net.ApplyChannelModes("#c", []state.ModeChange{{Add: true, Letter: 'v', Arg: bob.UID}})

	first := f.svc.Synchronize(f.net, "#c")
	f.net.ApplyChannelModes("#c", first)
	second := f.svc.Synchronize(f.net, "#c")

	want := []state.ModeChange{{Add: true, Letter: 'o', Arg: alice.UID}}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)

	ch, _ := f.net.Channel("#c")
	assert.True(t, ch.HasPrefix(bob.UID, 'v'), "unmatched users keep what they have")
	for _, c := range f.proto.modes() {
		for _, change := range c.changes {
			assert.True(t, change.Add)
		}
	}
}

func TestSyncWithoutMatchesSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@good.host", "o")
	f.join("mallory", "bad.host", "#c")
	f.join("eve", "good.host", "#elsewhere")

	assert.Empty(t, f.proto.calls)
}

func TestSyncFallsBackToServerIdentity(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@good.host", "o")

	var emitted *hook.ModePayload
	var source string
	_, err := hook.On(f.bus, hook.AutomodeMode, "test", func(ev *hook.Event, p *hook.ModePayload) error {
		emitted, source = p, ev.Source
		return nil
	})
	require.NoError(t, err)

	f.net.RemoveUser(f.bot.UID)
	u := f.join("alice", "good.host", "#c")

	calls := f.proto.modes()
	require.Len(t, calls, 1)
	assert.Equal(t, "irc.dal.net", calls[0].actor)

	require.NotNil(t, emitted)
	assert.Equal(t, "irc.dal.net", source)
	assert.Equal(t, "#c", emitted.Target)
	assert.Equal(t, hook.Mode, emitted.ParseAs)
	assert.Equal(t, []state.ModeChange{{Add: true, Letter: 'o', Arg: u.UID}}, emitted.Changes)
}

func TestLoginResyncsEveryChannel(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#a"}, "$account:alice", "o")
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#b"}, "$account", "v")

	u := f.join("alice", "host", "#a")
	_, _ = f.net.AddMember("#b", u.UID)
	assert.Empty(t, f.proto.calls)

	u.Account = "alice"
	_ = f.bus.Dispatch(f.net, u.UID, hook.ServicesLogin, &hook.LoginPayload{Account: "alice"})

	calls := f.proto.modes()
	require.Len(t, calls, 2)
	assert.Equal(t, "#a", calls[0].channel)
	assert.Equal(t, byte('o'), calls[0].changes[0].Letter)
	assert.Equal(t, "#b", calls[1].channel)
	assert.Equal(t, byte('v'), calls[1].changes[0].Letter)
}

func TestOperUpResyncs(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#opers"}, "$oper:*admin*", "o")
	u := f.join("alice", "host", "#opers")
	assert.Empty(t, f.proto.calls)

	u.OperType = "Server Administrator"
	_ = f.bus.Dispatch(f.net, u.UID, hook.ClientOpered, &hook.OperPayload{OperType: u.OperType})
	require.Len(t, f.proto.modes(), 1)
}

func TestSetJoinDelListScenario(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"Done. *!*@good.host now has modes ov in #chan."},
		f.run(true, "!SETACC #Chan *!*@good.host +ov"))

	u := f.join("alice", "good.host", "#chan")
	calls := f.proto.modes()
	require.Len(t, calls, 1)
	assert.Equal(t, "#chan", calls[0].channel)
	assert.Equal(t, []state.ModeChange{
		{Add: true, Letter: 'o', Arg: u.UID},
		{Add: true, Letter: 'v', Arg: u.UID},
	}, calls[0].changes)

	assert.Equal(t, []string{
		"Showing Automode entries for #chan:",
		"[1] *!*@good.host has modes +ov",
		"End of Automode entries list.",
	}, f.run(false, "listacc #chan"))

	assert.Equal(t, []string{"Error: No Automode access entry for *!*@other exists in #chan."},
		f.run(true, "del #chan *!*@other"))
	assert.Equal(t, []string{"Done. Removed the Automode access entry for *!*@good.host in #chan."},
		f.run(true, "del #chan *!*@good.host"))
	assert.Equal(t, []string{"Error: no Automode access entries exist for #chan."},
		f.run(true, "del #chan *!*@good.host"))
	assert.Equal(t, []string{"Error: No Automode access entries exist for #chan."},
		f.run(false, "list #chan"))
	assert.Equal(t, 0, f.store.Len())
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"Error: Invalid arguments given. Needs 3: channel, mask, mode list."},
		f.run(true, "set #chan onlymask"))
	assert.Equal(t, []string{"Error: Invalid channel name nochan."},
		f.run(true, "set nochan *!*@x o"))
	assert.Equal(t, []string{"Error: Unknown network efnet."},
		f.run(true, "set efnet#chan *!*@x o"))
	assert.Equal(t, []string{"Error: Invalid arguments given. Needs 2: channel, mask"},
		f.run(true, "del #chan"))
	assert.Equal(t, []string{"Error: Invalid arguments given. Needs 1: channel."},
		f.run(false, "list"))
	assert.Equal(t, []string{"Error: No Automode access entries exist for #chan."},
		f.run(true, "clear #chan"))

	lines := f.run(false, "set #chan *!*@x o")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "only my admins")
	assert.Equal(t, 0, f.store.Len())
}

func TestClearSyncAndSave(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#chan"}, "*!*@good.host", "v")
	f.addUser("alice", "good.host", "#chan")

	assert.Equal(t, []string{"Done."}, f.run(true, "syncacc #chan"))
	require.Len(t, f.proto.modes(), 1)

	lines := f.run(false, "save")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "only my admins", "saving needs an admin session")
	_, err := os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, []string{"Done."}, f.run(true, "save"))
	reloaded := acl.NewStore(f.store.Path(), zap.NewNop().Sugar())
	reloaded.Load()
	assert.Equal(t, 1, reloaded.Len())

	assert.Equal(t, []string{"Done. Removed all Automode access entries for #chan."},
		f.run(true, "clearaccess #chan"))
	assert.Equal(t, 0, f.store.Len())
}

func TestEndBurstJoinsAndResyncs(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#missing"}, "*!*@x", "o")
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#present"}, "*!*@good.host", "v")
	f.store.Set(acl.Key{Network: "efnet", Channel: "#other"}, "*!*@x", "o")

	_, _ = f.net.AddMember("#present", f.bot.UID)
	f.addUser("alice", "good.host", "#present")

	var synthetic []*hook.JoinPayload
	_, err := hook.On(f.bus, hook.AutomodeJoin, "test", func(ev *hook.Event, p *hook.JoinPayload) error {
		assert.Equal(t, f.bot.UID, ev.Source)
		synthetic = append(synthetic, p)
		return nil
	})
	require.NoError(t, err)

	// not connected yet: nothing happens
	_ = f.bus.Dispatch(f.net, "", hook.EndBurst, &hook.NetworkPayload{ServerID: "irc.dal.net"})
	assert.Empty(t, f.proto.calls)

	f.net.SetState(state.Connected)
	_ = f.bus.Dispatch(f.net, "", hook.EndBurst, &hook.NetworkPayload{ServerID: "irc.dal.net"})

	require.Len(t, f.proto.calls, 2)
	assert.Equal(t, call{kind: "join", actor: f.bot.UID, channel: "#missing"}, f.proto.calls[0])
	assert.Equal(t, "mode", f.proto.calls[1].kind)
	assert.Equal(t, "#present", f.proto.calls[1].channel)

	require.Len(t, synthetic, 1)
	assert.Equal(t, "#missing", synthetic[0].Channel)
	assert.Equal(t, []string{f.bot.UID}, synthetic[0].Users)
	assert.Equal(t, hook.Join, synthetic[0].ParseAs)
}

func TestSetJoinsBotWhenConnected(t *testing.T) {
	f := newFixture(t)
	f.net.SetState(state.Connected)

	f.run(true, "set #new $account o")
	require.Len(t, f.proto.calls, 1)
	assert.Equal(t, call{kind: "join", actor: f.bot.UID, channel: "#new"}, f.proto.calls[0])
}

func TestKickedBotRejoins(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@x", "o")
	op := f.addUser("op", "host", "#c")

	_ = f.bus.Dispatch(f.net, op.UID, hook.Kick, &hook.KickPayload{Channel: "#c", Target: f.bot.UID})
	_ = f.bus.Dispatch(f.net, op.UID, hook.Kick, &hook.KickPayload{Channel: "#nothing", Target: f.bot.UID})
	_ = f.bus.Dispatch(f.net, op.UID, hook.Kick, &hook.KickPayload{Channel: "#c", Target: "U99"})

	require.Len(t, f.proto.calls, 1)
	assert.Equal(t, call{kind: "join", actor: f.bot.UID, channel: "#c"}, f.proto.calls[0])
}

func TestBotDeopIsReverted(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@x", "o")
	op := f.addUser("op", "host", "#c")
	deop := []state.ModeChange{{Letter: 'o', Arg: f.bot.UID}}

	_ = f.bus.Dispatch(f.net, op.UID, hook.Mode, &hook.ModePayload{Target: "#c", Changes: deop})
	_ = f.bus.Dispatch(f.net, f.bot.UID, hook.Mode, &hook.ModePayload{Target: "#c", Changes: deop})
	_ = f.bus.Dispatch(f.net, op.UID, hook.Mode, &hook.ModePayload{Target: "#unmanaged", Changes: deop})

	require.Len(t, f.proto.calls, 1)
	assert.Equal(t, call{
		kind:    "mode",
		actor:   "irc.dal.net",
		channel: "#c",
		changes: []state.ModeChange{{Add: true, Letter: 'o', Arg: f.bot.UID}},
	}, f.proto.calls[0])
}

func TestStopUnsubscribes(t *testing.T) {
	f := newFixture(t)
	f.store.Set(acl.Key{Network: "dalnet", Channel: "#c"}, "*!*@good.host", "o")
	f.svc.Stop()
	f.join("alice", "good.host", "#c")
	assert.Empty(t, f.proto.calls)
	assert.Equal(t, 0, f.bus.Handlers(hook.Join))
}
