package repository

import (
	"context"
	"encoding/json"
	"fmt"

	valkeylib "github.com/valkey-io/valkey-go"

	domainGuest "github.com/wafleet/wafleet/domains/guest"
	"github.com/wafleet/wafleet/infrastructure/valkey"
)

// ValkeyGuestStore keeps guest sessions in Valkey so OTPs survive restarts
// and are visible to every request-handling process of the tenancy.
type ValkeyGuestStore struct {
	client *valkey.Client
	prefix string
}

func NewValkeyGuestStore(client *valkey.Client) *ValkeyGuestStore {
	return &ValkeyGuestStore{
		client: client,
		prefix: client.Key("guest") + ":",
	}
}

func (s *ValkeyGuestStore) key(phone string) string {
	return s.prefix + phone
}

func (s *ValkeyGuestStore) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeyGuestStore) Put(ctx context.Context, sess domainGuest.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal guest session: %w", err)
	}

	cmd := s.inner().B().Set().
		Key(s.key(sess.PhoneNumber)).
		Value(string(data)).
		Ex(domainGuest.OTPTTL).
		Build()

	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save guest session: %w", err)
	}
	return nil
}

// Get returns (nil, nil) when no session exists or the OTP expired.
func (s *ValkeyGuestStore) Get(ctx context.Context, phone string) (*domainGuest.Session, error) {
	cmd := s.inner().B().Get().Key(s.key(phone)).Build()

	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get guest session: %w", err)
	}

	var sess domainGuest.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest session: %w", err)
	}
	return &sess, nil
}

func (s *ValkeyGuestStore) Delete(ctx context.Context, phone string) error {
	cmd := s.inner().B().Del().Key(s.key(phone)).Build()
	return s.inner().Do(ctx, cmd).Error()
}
