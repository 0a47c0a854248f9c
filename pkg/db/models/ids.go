package models

import "github.com/google/uuid"

// assignID fills a zero primary key before insert so rows carry their id
// regardless of the dialect's default expression support.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, in dependency order, for dialects that
// bootstrap their schema with AutoMigrate instead of goose.
func All() []any {
	return []any{
		&Product{},
		&Order{},
		&OrderLine{},
		&OrderSequence{},
		&Transaction{},
		&CartEntry{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
