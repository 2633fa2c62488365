package persistence

import (
	"bytes"
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/models"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"
)

const (
	botPrefix = "bot/"
	txPrefix  = "tx/"
)

// BadgerSink is the BadgerDB implementation of Store.
// Bots live under bot/<uuid>, transactions under tx/<uuid>/<unix nanos>/<seq>
// so a prefix scan returns them in time order.
type BadgerSink struct {
	db  *badger.DB
	seq atomic.Uint64
	now func() time.Time
}

var _ Store = (*BadgerSink)(nil)

// NewBadgerSink opens (or creates) a BadgerDB database at dbPath.
// An empty path opens an in-memory database.
func NewBadgerSink(dbPath string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerSink{db: db, now: time.Now}, nil
}

func botKey(uuid string) []byte {
	return []byte(botPrefix + uuid)
}

func txKey(uuid string, at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%010d", txPrefix, uuid, at.UnixNano(), seq))
}

func (r *BadgerSink) InsertBot(_ context.Context, e activitylog.BotCreated) error {
	rec := models.BotRecord{
		UUID:           e.UUID,
		UserID:         e.UserID,
		BotType:        e.BotType,
		PlatformName:   e.PlatformName,
		AdditionalInfo: e.AdditionalInfo,
		Active:         true,
		CreatedAt:      r.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(botKey(e.UUID), data)
	})
}

func (r *BadgerSink) UpdateBot(_ context.Context, e activitylog.BotUpdated) error {
	return r.modifyBot(e.UUID, func(rec *models.BotRecord) {
		rec.AdditionalInfo = e.AdditionalInfo
		rec.UpdatedAt = r.now().UTC()
	})
}

func (r *BadgerSink) StopBot(_ context.Context, e activitylog.BotStopped) error {
	return r.modifyBot(e.UUID, func(rec *models.BotRecord) {
		rec.Active = false
		rec.StoppedAt = r.now().UTC()
	})
}

func (r *BadgerSink) InsertTransaction(_ context.Context, e activitylog.TransactionLogged) error {
	at := e.At
	if at.IsZero() {
		at = r.now()
	}
	rec := models.TransactionRecord{
		UUID:           e.UUID,
		Type:           e.TransactionType,
		Amount:         e.Amount,
		Price:          e.Price,
		Pair:           e.Pair,
		AdditionalInfo: e.AdditionalInfo,
		CreatedAt:      at.UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := txKey(e.UUID, at, r.seq.Add(1))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// GetBot loads a bot record. If the key is not found, it returns ErrBotNotFound.
func (r *BadgerSink) GetBot(_ context.Context, uuid string) (*models.BotRecord, error) {
	var rec models.BotRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(botKey(uuid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("bot value is empty in database")
			}
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, uuid)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *BadgerSink) ListTransactions(_ context.Context, uuid string) ([]models.TransactionRecord, error) {
	prefix := []byte(txPrefix + uuid + "/")
	var out []models.TransactionRecord
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.TransactionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Close gracefully closes the connection to the database.
func (r *BadgerSink) Close() error {
	return r.db.Close()
}

func (r *BadgerSink) modifyBot(uuid string, fn func(*models.BotRecord)) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(botKey(uuid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrBotNotFound, uuid)
		}
		if err != nil {
			return err
		}
		var rec models.BotRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(bytes.Clone(val), &rec)
		}); err != nil {
			return err
		}
		fn(&rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(botKey(uuid), data)
	})
}
