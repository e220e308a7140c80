// Package otpstore keeps phone verification codes in Redis.
//
// Only a bcrypt hash of each code is stored. A code lives under
// vecinal:otp:{phone} until it expires, is consumed, or runs out of
// attempts. A separate key vecinal:otp:cooldown:{phone} throttles resends.
package otpstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix         = "vecinal:otp:"
	cooldownKeyPrefix = "vecinal:otp:cooldown:"

	fieldHash     = "hash"
	fieldAttempts = "attempts"

	codeDigits = 6
)

var (
	ErrCooldown        = errors.New("a code was sent recently; wait before requesting another")
	ErrNoCode          = errors.New("no active code for this phone; request a new one")
	ErrMismatch        = errors.New("the code is incorrect")
	ErrTooManyAttempts = errors.New("too many incorrect attempts; request a new code")
)

// Config controls code lifetime and limits. Zero fields take defaults.
type Config struct {
	TTL         time.Duration // default 5m
	Cooldown    time.Duration // default 30s
	MaxAttempts int           // default 5
	Cost        int           // bcrypt cost, default bcrypt.DefaultCost
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cost == 0 {
		c.Cost = bcrypt.DefaultCost
	}
	return c
}

// attemptScript counts one attempt and returns {hash, attempts}, or nil when
// no code is active. It never recreates an expired key.
var attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
return {redis.call("HGET", KEYS[1], ARGV[2]), n}
`)

type Store struct {
	rdb redis.UniversalClient
	cfg Config
}

func New(rdb redis.UniversalClient, cfg Config) *Store {
	return &Store{rdb: rdb, cfg: cfg.withDefaults()}
}

func codeKey(phone string) string     { return keyPrefix + phone }
func cooldownKey(phone string) string { return cooldownKeyPrefix + phone }

// Issue generates a fresh code for phone and returns it in clear text for
// delivery. Any earlier code for the phone is replaced. Returns ErrCooldown
// while the previous code's resend window is open.
func (s *Store) Issue(ctx context.Context, phone string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, cooldownKey(phone), 1, s.cfg.Cooldown).Result()
	if err != nil {
		return "", fmt.Errorf("otp cooldown: %w", err)
	}
	if !ok {
		return "", ErrCooldown
	}

	code, err := newCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.Cost)
	if err != nil {
		return "", fmt.Errorf("otp hash: %w", err)
	}

	key := codeKey(phone)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fieldHash, string(hash), fieldAttempts, 0)
		p.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		// Let the caller retry immediately.
		s.rdb.Del(ctx, cooldownKey(phone))
		return "", fmt.Errorf("otp store: %w", err)
	}
	return code, nil
}

// Verify checks code against the active code for phone. A match consumes the
// code. Every mismatch counts as an attempt; reaching MaxAttempts discards
// the code.
func (s *Store) Verify(ctx context.Context, phone, code string) error {
	key := codeKey(phone)
	res, err := attemptScript.Run(ctx, s.rdb, []string{key}, fieldAttempts, fieldHash).Slice()
	if errors.Is(err, redis.Nil) {
		return ErrNoCode
	}
	if err != nil {
		return fmt.Errorf("otp attempt: %w", err)
	}
	hash, _ := res[0].(string)
	attempts, _ := res[1].(int64)
	if hash == "" {
		return ErrNoCode
	}
	if attempts > int64(s.cfg.MaxAttempts) {
		s.rdb.Del(ctx, key)
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		if attempts == int64(s.cfg.MaxAttempts) {
			s.rdb.Del(ctx, key)
			return ErrTooManyAttempts
		}
		return ErrMismatch
	}

	// Only the caller whose Del removes the key consumes the code.
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("otp consume: %w", err)
	}
	if n == 0 {
		return ErrNoCode
	}
	s.rdb.Del(ctx, cooldownKey(phone))
	return nil
}

// CooldownRemaining reports how long until phone may request another code.
func (s *Store) CooldownRemaining(ctx context.Context, phone string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, cooldownKey(phone)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func newCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
