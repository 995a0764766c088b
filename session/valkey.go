package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyPrefix namespaces session keys.
const DefaultValkeyPrefix = "dreamdesk"

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	Address  string
	Password string
	DB       int

	// Prefix namespaces keys as "<prefix>:session:<id>".
	Prefix string

	// TTL is the idle expiry applied on every save.
	TTL time.Duration

	// ConnectTimeout bounds the initial ping. Default 5s.
	ConnectTimeout time.Duration
}

// ValkeyStore keeps sessions in Valkey so several server replicas can
// share them.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyStore connects to Valkey and verifies the connection.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey address is required")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("creating valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging valkey (timeout %v): %w", timeout, err)
	}

	return newValkeyStore(client, cfg.Prefix, cfg.TTL), nil
}

func newValkeyStore(client valkey.Client, prefix string, ttl time.Duration) *ValkeyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ValkeyStore{
		client: client,
		prefix: valkeyPrefix(prefix),
		ttl:    ttl,
	}
}

func valkeyPrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = DefaultValkeyPrefix
	}
	return prefix + ":session:"
}

var _ Store = (*ValkeyStore)(nil)

func (v *ValkeyStore) key(id string) string {
	return v.prefix + id
}

func (v *ValkeyStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(id)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}

func (v *ValkeyStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	c := s.clone()
	c.UpdatedAt = time.Now()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	cmd := v.client.B().Set().Key(v.key(c.ID)).Value(string(data)).Ex(v.ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (v *ValkeyStore) Delete(ctx context.Context, id string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.key(id)).Build()).Error(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (v *ValkeyStore) Close() error {
	v.client.Close()
	return nil
}
