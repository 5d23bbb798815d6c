// Package redislib keeps message library entries in Redis lists, one list per
// library. Library creation and ownership stay with the main store.
package redislib

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "voxdrop:library:"

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return New(client), nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(libraryID string) string { return keyPrefix + libraryID }

func (s *Store) AppendEntry(ctx context.Context, libraryID, recordID string) error {
	if err := s.client.RPush(ctx, key(libraryID), recordID).Err(); err != nil {
		return fmt.Errorf("failed to append to library %s: %w", libraryID, err)
	}
	return nil
}

// Entries returns ids in insertion order. An unknown library reads as empty.
func (s *Store) Entries(ctx context.Context, libraryID string) ([]string, error) {
	ids, err := s.client.LRange(ctx, key(libraryID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read library %s: %w", libraryID, err)
	}
	return ids, nil
}

// RemoveEntry deletes the first occurrence of recordID. LREM with a count of
// 1 scans from the head and is atomic on the server.
func (s *Store) RemoveEntry(ctx context.Context, libraryID, recordID string) (bool, error) {
	n, err := s.client.LRem(ctx, key(libraryID), 1, recordID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove %s from library %s: %w", recordID, libraryID, err)
	}
	return n > 0, nil
}
