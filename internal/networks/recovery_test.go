package networks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"affsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recoveryStub struct {
	logins  int
	fetches int
	seen    []string
}

func (p *recoveryStub) recovery(creds domain.Credentials, fetchErr func(call int) error) sessionRecovery[int] {
	return sessionRecovery[int]{
		creds:   creds,
		primary: []string{"email", "password"},
		cached:  cachedSession(creds, domain.SessionAccessToken),
		login: func(ctx context.Context) (map[string]string, error) {
			p.logins++
			return map[string]string{domain.SessionAccessToken: fmt.Sprintf("fresh-%d", p.logins)}, nil
		},
		fetch: func(ctx context.Context, session map[string]string) (int, error) {
			p.fetches++
			p.seen = append(p.seen, session[domain.SessionAccessToken])
			if err := fetchErr(p.fetches); err != nil {
				return 0, err
			}
			return 42, nil
		},
	}
}

func testBase() *base {
	b := newBase("test", domain.AdapterConfig{}, testDeps(nil))
	return &b
}

func TestRecoveryBoundedWhenSessionAlwaysExpired(t *testing.T) {
	stub := &recoveryStub{}
	creds := domain.Credentials{"email": "e", "password": "p", domain.SessionAccessToken: "stale"}

	_, session, err := stub.recovery(creds, func(int) error { return domain.ErrSessionExpired }).run(context.Background(), testBase())

	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, 1, stub.logins)
	assert.Equal(t, 2, stub.fetches)
	assert.Equal(t, []string{"stale", "fresh-1"}, stub.seen)
	assert.NotNil(t, session)
}

func TestRecoveryRefreshesOnce(t *testing.T) {
	stub := &recoveryStub{}
	creds := domain.Credentials{"email": "e", "password": "p", domain.SessionAccessToken: "stale"}

	out, session, err := stub.recovery(creds, func(call int) error {
		if call == 1 {
			return fmt.Errorf("%w: 401", domain.ErrSessionExpired)
		}
		return nil
	}).run(context.Background(), testBase())

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, "fresh-1", session[domain.SessionAccessToken])
}

func TestRecoveryUsesCachedSession(t *testing.T) {
	stub := &recoveryStub{}
	creds := domain.Credentials{domain.SessionAccessToken: "cached"}

	out, session, err := stub.recovery(creds, func(int) error { return nil }).run(context.Background(), testBase())
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Nil(t, session)
	assert.Equal(t, 0, stub.logins)
}

func TestRecoveryWithoutPrimaryCredentials(t *testing.T) {
	stub := &recoveryStub{}
	creds := domain.Credentials{domain.SessionAccessToken: "stale", "email": "e"}

	_, _, err := stub.recovery(creds, func(int) error { return domain.ErrSessionExpired }).run(context.Background(), testBase())
	assert.ErrorIs(t, err, domain.ErrSessionExpiredNoCredentials)
	assert.Equal(t, 0, stub.logins)
	assert.Equal(t, 1, stub.fetches)
}

func TestRecoveryOtherErrorsAreTerminal(t *testing.T) {
	stub := &recoveryStub{}
	boom := errors.New("boom")
	creds := domain.Credentials{"email": "e", "password": "p", domain.SessionAccessToken: "stale"}

	_, _, err := stub.recovery(creds, func(int) error { return boom }).run(context.Background(), testBase())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, stub.logins)
	assert.Equal(t, 1, stub.fetches)
}

func TestRecoveryWithoutCacheLogsInFirst(t *testing.T) {
	stub := &recoveryStub{}
	creds := domain.Credentials{"email": "e", "password": "p"}

	_, _, err := stub.recovery(creds, func(int) error { return domain.ErrSessionExpired }).run(context.Background(), testBase())
	assert.Error(t, err)
	assert.Equal(t, 1, stub.logins)
	assert.Equal(t, 1, stub.fetches)
}
