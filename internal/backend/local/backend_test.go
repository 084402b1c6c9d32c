package local

import (
	"context"
	"net/http"
	"testing"

	"multiauth/internal/backend"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testBackend(t *testing.T, options map[string]any) *Backend {
	t.Helper()
	logger, err := logging.NewLogger("error")
	require.NoError(t, err)

	b, err := New(options, logger, metrics.NewCollector())
	require.NoError(t, err)
	return b
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestNew_RequiresCredentialStore(t *testing.T) {
	logger, err := logging.NewLogger("error")
	require.NoError(t, err)

	_, err = New(map[string]any{}, logger, metrics.NewCollector())
	assert.ErrorContains(t, err, "either users or password")
}

func TestAuthenticate_UserStore(t *testing.T) {
	b := testBackend(t, map[string]any{
		"users": map[string]string{
			"alice": bcryptHash(t, "wonderland"),
			"bob":   bcryptHash(t, "builder"),
		},
	})

	t.Run("accepts a valid username/password pair", func(t *testing.T) {
		username, err := b.Authenticate(context.Background(), backend.Credentials{
			"username": "alice",
			"password": "wonderland",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", username)
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		_, err := b.Authenticate(context.Background(), backend.Credentials{
			"username": "alice",
			"password": "builder",
		})
		assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		_, err := b.Authenticate(context.Background(), backend.Credentials{
			"username": "mallory",
			"password": "wonderland",
		})
		assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		_, err := b.Authenticate(context.Background(), backend.Credentials{"username": "alice"})
		assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
	})
}

func TestAuthenticate_SharedPassword(t *testing.T) {
	b := testBackend(t, map[string]any{"password": "open-sesame"})

	username, err := b.Authenticate(context.Background(), backend.Credentials{
		"username": "anyone",
		"password": "open-sesame",
	})
	require.NoError(t, err)
	assert.Equal(t, "anyone", username)

	_, err = b.Authenticate(context.Background(), backend.Credentials{
		"username": "anyone",
		"password": "wrong",
	})
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
}

func TestRoutes(t *testing.T) {
	b := testBackend(t, map[string]any{"password": "xxxx"})

	routes := b.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "/login", routes[0].Path)
	assert.NotNil(t, routes[0].Handler)
}

func TestHandleLogin(t *testing.T) {
	b := testBackend(t, map[string]any{
		"users": map[string]string{"alice": bcryptHash(t, "wonderland")},
	})
	handler := b.Routes()[0].Handler

	t.Run("form credentials return the username as JSON", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			FormData("username", "alice").
			FormData("password", "wonderland").
			Expect(t).
			Status(http.StatusOK).
			Assert(jsonpath.Equal(`$.username`, "alice")).
			End()
	})

	t.Run("JSON credentials return the username as JSON", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			JSON(`{"username": "alice", "password": "wonderland"}`).
			Expect(t).
			Status(http.StatusOK).
			Assert(jsonpath.Equal(`$.username`, "alice")).
			End()
	})

	t.Run("bad password is forbidden", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			FormData("username", "alice").
			FormData("password", "nope").
			Expect(t).
			Status(http.StatusForbidden).
			End()
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Get("/login").
			Expect(t).
			Status(http.StatusMethodNotAllowed).
			End()
	})

	t.Run("next target redirects after login", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			Query("next", "/hub/home").
			FormData("username", "alice").
			FormData("password", "wonderland").
			Expect(t).
			Status(http.StatusSeeOther).
			Header("Location", "/hub/home").
			End()
	})
}

func TestHandleLogin_AllowBlockLists(t *testing.T) {
	b := testBackend(t, map[string]any{
		"password":      "xxxx",
		"allowed_users": []string{"alice"},
		"blocked_users": []string{"eve"},
	})
	handler := b.Routes()[0].Handler

	t.Run("allowed user passes", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			FormData("username", "alice").
			FormData("password", "xxxx").
			Expect(t).
			Status(http.StatusOK).
			End()
	})

	t.Run("user off the allow list is denied", func(t *testing.T) {
		apitest.New().
			Handler(handler).
			Post("/login").
			FormData("username", "carol").
			FormData("password", "xxxx").
			Expect(t).
			Status(http.StatusForbidden).
			End()
	})
}
