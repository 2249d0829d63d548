package testutil

import (
	"github.com/parleyhq/parley/core"
)

// RoomBuilder provides a fluent helper for constructing rooms in tests.
// Example:
//
//	room := NewRoomBuilder("design-review").
//		Mode(core.ModeRoundtable).
//		Agent("architect", "fast").
//		Agent("critic", "fast").
//		Build()
//
// Chain only the parts you need; sensible defaults are applied.
type RoomBuilder struct {
	room core.Room
}

// NewRoomBuilder creates a builder for a room with the given id (also used
// as the name unless overridden).
func NewRoomBuilder(id string) *RoomBuilder {
	return &RoomBuilder{room: core.Room{ID: id, Name: id, Mode: core.ModeManual}}
}

// Mode sets the collaboration mode (chainable).
func (b *RoomBuilder) Mode(m core.Mode) *RoomBuilder {
	b.room.Mode = m
	return b
}

// Goal sets the shared objective handed to the manager model (chainable).
func (b *RoomBuilder) Goal(g string) *RoomBuilder {
	b.room.Goal = g
	return b
}

// Manager sets the manager model alias for orchestrator mode (chainable).
func (b *RoomBuilder) Manager(alias string) *RoomBuilder {
	b.room.ManagerModelAlias = alias
	return b
}

// Agent appends a roster agent with the next free position (chainable).
func (b *RoomBuilder) Agent(key, modelAlias string) *RoomBuilder {
	b.room.Roster = append(b.room.Roster, core.AgentDef{
		Key:        key,
		Name:       key,
		ModelAlias: modelAlias,
		Position:   len(b.room.Roster),
	})
	return b
}

// AgentDef appends a fully specified roster agent (chainable).
func (b *RoomBuilder) AgentDef(a core.AgentDef) *RoomBuilder {
	b.room.Roster = append(b.room.Roster, a)
	return b
}

// Build returns the accumulated room.
func (b *RoomBuilder) Build() core.Room { return b.room }
