package persistence

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/models"
	"errors"
)

// ErrBotNotFound is returned when a bot record does not exist.
var ErrBotNotFound = errors.New("bot record not found")

// Store is an activity sink that can also read its history back.
// It abstracts the underlying storage mechanism (SQL database, BadgerDB)
// from the rest of the application.
type Store interface {
	activitylog.Sink

	// GetBot loads the record written by InsertBot and later updates.
	// Returns ErrBotNotFound if the uuid was never inserted.
	GetBot(ctx context.Context, uuid string) (*models.BotRecord, error)

	// ListTransactions returns the transactions of one bot, oldest first.
	ListTransactions(ctx context.Context, uuid string) ([]models.TransactionRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
