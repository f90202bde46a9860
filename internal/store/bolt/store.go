// Package bolt keeps chat transcripts in a local bbolt file so the CLI can chat without
// an account on the API.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"tyana/internal/session"
)

// Store implements session.HistoryStore with one bucket per user. Keys are the bucket's
// sequence numbers in big-endian form, so iteration order is insertion order.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

type record struct {
	Role      session.Role `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db failed: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(userID string) []byte {
	return []byte("history-" + userID)
}

// List returns up to limit messages of userID, oldest first.
func (s *Store) List(_ context.Context, userID string, limit int) ([]session.StoredMessage, error) {
	var out []session.StoredMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(userID))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal message failed: %w", err)
			}
			out = append(out, session.StoredMessage{
				ID:        strconv.FormatUint(binary.BigEndian.Uint64(k), 10),
				Role:      rec.Role,
				Content:   rec.Content,
				CreatedAt: rec.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert appends a message and returns its sequence number as the id.
func (s *Store) Insert(_ context.Context, userID string, role session.Role, content string) (string, error) {
	if userID == "" {
		return "", errors.New("insert message: empty user id")
	}

	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(userID))
		if err != nil {
			return fmt.Errorf("create history bucket failed: %w", err)
		}
		id, err = b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence failed: %w", err)
		}

		v, err := json.Marshal(record{Role: role, Content: content, CreatedAt: s.now()})
		if err != nil {
			return fmt.Errorf("marshal message failed: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return b.Put(key, v)
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}

// DeleteAll drops the user's bucket. Sequence numbers restart afterwards.
func (s *Store) DeleteAll(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(bucketName(userID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
