// Package command routes operator commands sent to the service bot
package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dalnet/nexuslink/internal/state"
)

// Level is the privilege a command requires. Only verified IRC operators
// reach the router at all; Admin additionally needs a !login session.
type Level int

const (
	Oper Level = iota
	Admin
)

// Request is one command invocation
type Request struct {
	Network  *state.Network
	Nick     string
	Hostmask string
	Admin    bool
	Name     string // lowercased, without the ! prefix
	Args     []string

	out func(text string)
}

// NewRequest builds a request whose replies go to out
func NewRequest(network *state.Network, nick, hostmask string, admin bool, name string, args []string, out func(text string)) *Request {
	return &Request{
		Network:  network,
		Nick:     nick,
		Hostmask: hostmask,
		Admin:    admin,
		Name:     name,
		Args:     args,
		out:      out,
	}
}

// Reply sends one line back to the caller
func (r *Request) Reply(text string) {
	r.out(text)
}

// Replyf formats and sends one line back to the caller
func (r *Request) Replyf(format string, args ...any) {
	r.out(fmt.Sprintf(format, args...))
}

// Command is a named handler with optional aliases
type Command struct {
	Name    string
	Aliases []string
	Level   Level
	Usage   string // argument synopsis, e.g. "<channel> <mask>"
	Help    string
	Run     func(r *Request)
}

// Registry manages command registration and dispatch
type Registry struct {
	commands map[string]*Command
	order    []*Command
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command under its name and aliases, case-insensitively
func (r *Registry) Register(cmd *Command) error {
	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, name := range names {
		if _, ok := r.commands[strings.ToLower(name)]; ok {
			return fmt.Errorf("command %q already registered", name)
		}
	}
	for _, name := range names {
		r.commands[strings.ToLower(name)] = cmd
	}
	r.order = append(r.order, cmd)
	return nil
}

// Get looks up a command by name or alias
func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// All returns the registered commands sorted by name
func (r *Registry) All() []*Command {
	out := append([]*Command(nil), r.order...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits a message into a lowercased command name and its arguments.
// A leading ! is optional.
func Parse(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// Dispatch runs the command named by req. It returns false when no such
// command exists.
func (r *Registry) Dispatch(req *Request) bool {
	cmd, ok := r.Get(req.Name)
	if !ok {
		return false
	}
	if cmd.Level == Admin && !req.Admin {
		req.Replyf("Sorry, only my admins can issue %s. Use !login first.", strings.ToUpper(cmd.Name))
		return true
	}
	cmd.Run(req)
	return true
}

// HelpCommand lists the commands the caller may use
func HelpCommand(r *Registry) *Command {
	return &Command{
		Name: "help",
		Help: "lists available commands",
		Run: func(req *Request) {
			req.Reply("Available commands:")
			var admin []*Command
			for _, cmd := range r.All() {
				if cmd.Level == Admin {
					admin = append(admin, cmd)
					continue
				}
				req.Reply(helpLine(cmd))
			}
			if !req.Admin || len(admin) == 0 {
				return
			}
			req.Reply(" ")
			req.Reply("Admin commands:")
			for _, cmd := range admin {
				req.Reply(helpLine(cmd))
			}
		},
	}
}

func helpLine(cmd *Command) string {
	line := "!" + cmd.Name
	if cmd.Usage != "" {
		line += " " + cmd.Usage
	}
	if cmd.Help != "" {
		line += " - " + cmd.Help
	}
	return line
}
