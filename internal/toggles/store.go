// Package toggles is the Redis-backed runtime switchboard for venues: a
// venue disabled here is skipped by the router without a restart.
package toggles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	indexKey    = "venues:toggles"
	valuePrefix = "venue:toggle:"
)

var ErrNotFound = errors.New("venue toggle not found")

var venueRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// Toggle is one venue's runtime switch.
type Toggle struct {
	Venue     string    `json:"venue"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	client redis.Cmdable
}

func NewStore(client redis.Cmdable) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &Store{client: client}, nil
}

func ValidateVenue(venue string) error {
	if !venueRe.MatchString(venue) {
		return fmt.Errorf("invalid venue name")
	}
	return nil
}

func toggleKey(venue string) string {
	return valuePrefix + venue
}

// Enabled reports whether a venue may be routed to. A venue with no toggle
// is enabled; Redis trouble fails open so routing keeps working.
func (s *Store) Enabled(ctx context.Context, venue string) bool {
	t, err := s.Get(ctx, venue)
	if err != nil {
		return true
	}
	return t.Enabled
}

func (s *Store) Set(ctx context.Context, venue string, enabled bool) (*Toggle, error) {
	if err := ValidateVenue(venue); err != nil {
		return nil, err
	}

	toggle := &Toggle{Venue: venue, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	b, err := json.Marshal(toggle)
	if err != nil {
		return nil, fmt.Errorf("marshal toggle: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, toggleKey(venue), b, 0)
	pipe.SAdd(ctx, indexKey, venue)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("set toggle: %w", err)
	}
	return toggle, nil
}

func (s *Store) Get(ctx context.Context, venue string) (*Toggle, error) {
	if err := ValidateVenue(venue); err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, toggleKey(venue)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get toggle: %w", err)
	}

	var t Toggle
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, fmt.Errorf("unmarshal toggle: %w", err)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context) ([]*Toggle, error) {
	venues, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list toggle index: %w", err)
	}
	if len(venues) == 0 {
		return []*Toggle{}, nil
	}

	keys := make([]string, 0, len(venues))
	for _, v := range venues {
		if err := ValidateVenue(v); err != nil {
			continue
		}
		keys = append(keys, toggleKey(v))
	}
	if len(keys) == 0 {
		return []*Toggle{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget toggles: %w", err)
	}

	out := make([]*Toggle, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t Toggle
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, venue string) error {
	if err := ValidateVenue(venue); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, toggleKey(venue))
	pipe.SRem(ctx, indexKey, venue)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete toggle: %w", err)
	}
	return nil
}
