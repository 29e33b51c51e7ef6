package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord user has the DJ role
// before executing playback-control slash commands.
type PermissionChecker struct {
	djRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given DJ role ID.
func NewPermissionChecker(djRoleID string) *PermissionChecker {
	return &PermissionChecker{djRoleID: djRoleID}
}

// IsDJ checks whether the interaction author has the configured DJ role.
// If djRoleID is empty, all users are treated as DJs (useful for private
// servers). Returns false if the interaction has no Member (e.g., DM
// channel interactions).
func (p *PermissionChecker) IsDJ(i *discordgo.InteractionCreate) bool {
	if p.djRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.djRoleID)
}
