package host

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var ErrImageNotFound = errors.New("image not found")

// ImageStore keeps pristine unit images so a faulted unit can be relaunched
// from the state the host originally transferred.
type ImageStore interface {
	Put(key string, image []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

var _ ImageStore = (*BadgerImageStore)(nil)

const imageKeyPrefix = "image/"

// BadgerImageStore is an ImageStore on an embedded BadgerDB.
type BadgerImageStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerImageStore opens a store under path, or an in-memory one when
// path is empty. A nil logger silences BadgerDB.
func OpenBadgerImageStore(path string, logger *slog.Logger) (*BadgerImageStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create image store directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open image store: %w", err)
	}
	return &BadgerImageStore{db: db}, nil
}

func (s *BadgerImageStore) Put(key string, image []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(imageKeyPrefix+key), image)
	})
	if err != nil {
		return fmt.Errorf("put image %s: %w", key, err)
	}
	return nil
}

func (s *BadgerImageStore) Get(key string) ([]byte, error) {
	var image []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(imageKeyPrefix + key))
		if err != nil {
			return err
		}
		image, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrImageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", key, err)
	}
	return image, nil
}

func (s *BadgerImageStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(imageKeyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("delete image %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored image keys.
func (s *BadgerImageStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(imageKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(imageKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return keys, nil
}

func (s *BadgerImageStore) Close() error {
	return s.db.Close()
}
