package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// AutocompleteFunc is the signature for autocomplete handlers.
type AutocompleteFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// commandEntry stores a command definition along with its handler.
type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches Discord interactions to registered handlers.
type CommandRouter struct {
	mu           sync.RWMutex
	commands     map[string]commandEntry     // command name → entry
	autocomplete map[string]AutocompleteFunc // command name → handler
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		commands:     make(map[string]commandEntry),
		autocomplete: make(map[string]AutocompleteFunc),
	}
}

// RegisterCommand registers a handler for a slash command. The cmd
// definition is used when registering commands with Discord.
func (r *CommandRouter) RegisterCommand(name string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = commandEntry{command: cmd, handler: handler}
}

// RegisterAutocomplete registers an autocomplete handler for a command.
func (r *CommandRouter) RegisterAutocomplete(name string, handler AutocompleteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[name] = handler
}

// ApplicationCommands returns the list of command definitions for
// registration with the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil {
			cmds = append(cmds, entry.command)
		}
	}
	return cmds
}

// Handle dispatches an interaction to the appropriate handler.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.handleApplicationCommand(s, i)

	case discordgo.InteractionApplicationCommandAutocomplete:
		r.handleAutocomplete(s, i)

	default:
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
	}
}

func (r *CommandRouter) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name

	r.mu.RLock()
	entry, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "name", name)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	entry.handler(s, i)
}

func (r *CommandRouter) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name

	r.mu.RLock()
	handler, ok := r.autocomplete[name]
	r.mu.RUnlock()

	if !ok {
		slog.Debug("discord: no autocomplete handler", "name", name)
		// Respond with empty choices.
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{},
		})
		return
	}
	handler(s, i)
}
