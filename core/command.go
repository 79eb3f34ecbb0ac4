package core

import (
	"errors"
	"sync"
)

// CommandHandler runs one command. It decodes its own arguments from data.
type CommandHandler func(data *[]byte) error

// Command is one entry of the message table. Entries without a handler are
// responses (MCU to host).
type Command struct {
	ID      uint16
	Name    string
	Format  string // argument part of the dictionary format, "oid=%c pin=%u"
	Handler CommandHandler
}

// FormatString is the dictionary key: name and arguments.
func (c *Command) FormatString() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry numbers messages in registration order.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]*Command
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byName: make(map[string]*Command)}
}

// RegisterCommand adds a message to the global registry.
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// Register adds a message and returns its id. A name registered twice keeps
// its first id and definition.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd, exists := r.byName[name]; exists {
		return cmd.ID
	}
	cmd := &Command{ID: uint16(len(r.commands)), Name: name, Format: format, Handler: handler}
	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd
	return cmd.ID
}

// GetCommand looks a message up by id.
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// GetCommandByName looks a message up by name.
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Dispatch runs the handler of cmdID.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses splits the table by direction for the dictionary.
func (r *CommandRegistry) GetCommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[cmd.FormatString()] = int(cmd.ID)
		} else {
			responses[cmd.FormatString()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// DispatchCommand runs a command from the global registry.
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the registry the firmware serves.
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
