package testutil

import (
	"context"
	"time"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/store"
)

// Fixture bundles the seeded in-memory store and scripted model registry a
// turn execution test needs.
type Fixture struct {
	Store  *store.Memory
	Models *model.Registry
}

// NewFixture constructs an empty fixture.
func NewFixture() *Fixture {
	return &Fixture{Store: store.NewMemory(), Models: model.NewRegistry()}
}

// Mock registers a fresh MockModel under alias and returns it for scripting.
func (f *Fixture) Mock(alias string) *model.MockModel {
	m := model.NewMockModel(alias, "mock")
	f.Models.Register(alias, m)
	return m
}

// RoomSession seeds a room and one session bound to it, crediting the user
// wallet with balance. Returns the session id.
func (f *Fixture) RoomSession(room core.Room, userID string, balance int64) string {
	f.Store.PutRoom(room)
	sess := core.Session{
		ID:      core.NewID(),
		UserID:  userID,
		RoomID:  room.ID,
		Created: time.Now().UTC(),
	}
	f.Store.PutSession(sess)
	if balance > 0 {
		_ = f.Store.Credit(context.Background(), userID, balance)
	}
	return sess.ID
}

// AgentSession seeds a standalone agent and one session bound to it.
func (f *Fixture) AgentSession(agent core.AgentDef, userID string, balance int64) string {
	f.Store.PutAgent(agent)
	sess := core.Session{
		ID:       core.NewID(),
		UserID:   userID,
		AgentKey: agent.Key,
		Created:  time.Now().UTC(),
	}
	f.Store.PutSession(sess)
	if balance > 0 {
		_ = f.Store.Credit(context.Background(), userID, balance)
	}
	return sess.ID
}
