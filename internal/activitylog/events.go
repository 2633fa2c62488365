package activitylog

import (
	"crypto-bots-go/internal/models"
	"time"
)

// Kind identifies the persistence route of an event.
type Kind string

const (
	KindCreated     Kind = "CREATE"
	KindUpdated     Kind = "UPDATE"
	KindStopped     Kind = "STOP"
	KindTransaction Kind = "TRANSACTION"
)

// Event is one of BotCreated, BotUpdated, BotStopped or TransactionLogged.
type Event interface {
	Kind() Kind
	CorrelationID() string
}

// BotCreated is emitted when the tracker registers a new instance.
type BotCreated struct {
	UUID           string
	UserID         int64
	BotType        models.BotType
	PlatformName   string
	AdditionalInfo map[string]any
}

// BotUpdated carries a fresh snapshot of a bot's state.
type BotUpdated struct {
	UUID           string
	AdditionalInfo map[string]any
}

// BotStopped marks a bot inactive.
type BotStopped struct {
	UUID string
}

// TransactionLogged records one executed order.
type TransactionLogged struct {
	UUID            string
	TransactionType models.Side
	Amount          float64
	Price           float64
	Pair            string
	AdditionalInfo  map[string]any
	At              time.Time
}

func (BotCreated) Kind() Kind        { return KindCreated }
func (BotUpdated) Kind() Kind        { return KindUpdated }
func (BotStopped) Kind() Kind        { return KindStopped }
func (TransactionLogged) Kind() Kind { return KindTransaction }

func (e BotCreated) CorrelationID() string        { return e.UUID }
func (e BotUpdated) CorrelationID() string        { return e.UUID }
func (e BotStopped) CorrelationID() string        { return e.UUID }
func (e TransactionLogged) CorrelationID() string { return e.UUID }
