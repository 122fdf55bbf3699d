package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(testSecret, "livesync-test", 15*time.Minute)
	require.NoError(t, err)
	return iss
}

func TestMemoryTokenStore_SetNotifiesOnChangeOnly(t *testing.T) {
	s := NewMemoryTokenStore("")
	_, ok := s.AccessToken()
	assert.False(t, ok)

	var seen []string
	s.OnChange(func(tok string) { seen = append(seen, tok) })

	s.Set("abc")
	s.Set("abc")
	s.Set("xyz")
	s.Clear()

	assert.Equal(t, []string{"abc", "xyz", ""}, seen)
	_, ok = s.AccessToken()
	assert.False(t, ok)
}

func TestMemoryTokenStore_ListenerMayReadStore(t *testing.T) {
	s := NewMemoryTokenStore("")
	var got string
	s.OnChange(func(string) { got, _ = s.AccessToken() })
	s.Set("abc")
	assert.Equal(t, "abc", got)
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("", "x", time.Minute)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssuer_IssueAndValidate(t *testing.T) {
	iss := newTestIssuer(t)

	token, exp, err := iss.Issue(Session{UserID: "u1", Email: "admin@shop.test", Role: "admin"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := iss.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, &Session{UserID: "u1", Email: "admin@shop.test", Role: "admin"}, claims.Session())
}

func TestIssuer_ValidateExpired(t *testing.T) {
	iss := newTestIssuer(t)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := iss.Issue(Session{UserID: "u1"})
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIssuer_ValidateWrongSecret(t *testing.T) {
	token, _, err := newTestIssuer(t).Issue(Session{UserID: "u1"})
	require.NoError(t, err)

	other, err := NewIssuer("another-secret-key-at-least-32-ch", "x", time.Minute)
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_ValidateRejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestIssuer(t).Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_ValidateRequiresSubject(t *testing.T) {
	token, _, err := newTestIssuer(t).Issue(Session{})
	require.NoError(t, err)
	_, err = newTestIssuer(t).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestInspect(t *testing.T) {
	iss := newTestIssuer(t)
	token, exp, err := iss.Issue(Session{UserID: "u7", Email: "ops@shop.test", Role: "staff"})
	require.NoError(t, err)

	info, err := Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "u7", info.Subject)
	assert.Equal(t, "ops@shop.test", info.Email)
	assert.Equal(t, "staff", info.Role)
	assert.WithinDuration(t, exp, info.ExpiresAt, time.Second)
	assert.False(t, info.Expired(time.Now()))
	assert.True(t, info.Expired(exp.Add(time.Second)))
}

func TestInspect_Garbage(t *testing.T) {
	_, err := Inspect("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
