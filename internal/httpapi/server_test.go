package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(r))

	r.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc123")
	assert.Equal(t, "", bearerToken(r))

	r.Header.Set("Authorization", "Bearer")
	assert.Equal(t, "", bearerToken(r))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 5, clampInt(5, 1, 10))
	assert.Equal(t, 1, clampInt(-3, 1, 10))
	assert.Equal(t, 10, clampInt(99, 1, 10))
}

func TestLimitQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25", nil)
	assert.Equal(t, 25, limitQuery(r, 20, 50))

	r = httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, 20, limitQuery(r, 20, 50))

	r = httptest.NewRequest("GET", "/?limit=banana", nil)
	assert.Equal(t, 20, limitQuery(r, 20, 50))

	r = httptest.NewRequest("GET", "/?limit=9999", nil)
	assert.Equal(t, 50, limitQuery(r, 20, 50))

	r = httptest.NewRequest("GET", "/?limit=0", nil)
	assert.Equal(t, 1, limitQuery(r, 20, 50))
}

func TestCursorQuery(t *testing.T) {
	id := uuid.New()

	r := httptest.NewRequest("GET", "/?cursor="+id.String(), nil)
	got, ok := cursorQuery(r)
	require.True(t, ok)
	assert.Equal(t, id, got)

	r = httptest.NewRequest("GET", "/", nil)
	_, ok = cursorQuery(r)
	assert.False(t, ok)

	r = httptest.NewRequest("GET", "/?cursor=not-a-uuid", nil)
	_, ok = cursorQuery(r)
	assert.False(t, ok)
}

func TestFmtTime(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2025, 6, 1, 20, 30, 0, 0, loc)
	assert.Equal(t, "2025-06-01T12:30:00Z", fmtTime(ts))
}

func TestUsernamePattern(t *testing.T) {
	assert.True(t, usernameRe.MatchString("alice"))
	assert.True(t, usernameRe.MatchString("bob_99"))
	assert.False(t, usernameRe.MatchString("ab"))
	assert.False(t, usernameRe.MatchString("has space"))
	assert.False(t, usernameRe.MatchString("emoji🙂"))
}
