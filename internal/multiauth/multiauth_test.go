package multiauth

import (
	"context"
	"strings"
	"testing"

	"multiauth/internal/config"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger("error")
	require.NoError(t, err)
	return logger
}

func oauthOptions(extra map[string]any) map[string]any {
	options := map[string]any{
		"client_id":          "xxxx",
		"client_secret":      "xxxx",
		"oauth_callback_url": "http://example.com/hub/oauth_callback",
	}
	for k, v := range extra {
		options[k] = v
	}
	return options
}

func TestNew_DifferentBackends(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "gitlab", Prefix: "/gitlab", Options: oauthOptions(nil)},
		{Type: "github", Prefix: "/github", Options: oauthOptions(nil)},
		{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": "PAM", "password": "xxxx"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)
	require.Len(t, authenticator.Backends(), 3)

	t.Run("aggregates every backend's routes in order", func(t *testing.T) {
		routes := authenticator.Handlers("")
		require.Len(t, routes, 7)

		assert.Equal(t, "/gitlab/oauth_login", routes[0].Path)
		assert.Equal(t, "/gitlab/oauth_callback", routes[1].Path)
		assert.Equal(t, "/gitlab/logout", routes[2].Path)
		assert.Equal(t, "/github/oauth_login", routes[3].Path)
		assert.Equal(t, "/github/oauth_callback", routes[4].Path)
		assert.Equal(t, "/github/logout", routes[5].Path)
		assert.Equal(t, "/pam/login", routes[6].Path)
	})

	t.Run("builds login and logout URLs under each mount prefix", func(t *testing.T) {
		backends := authenticator.Backends()

		assert.Equal(t, "http://example.com/gitlab/oauth_login", backends[0].LoginURL("http://example.com"))
		assert.Equal(t, "http://example.com/gitlab/logout", backends[0].LogoutURL("http://example.com"))
		assert.Equal(t, "http://example.com/github/oauth_login", backends[1].LoginURL("http://example.com"))
		assert.Equal(t, "http://example.com/pam/login", backends[2].LoginURL("http://example.com"))
		assert.Equal(t, "http://example.com/pam/logout", backends[2].LogoutURL("http://example.com"))
	})
}

func TestNew_SameBackendTypeTwice(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "google", Prefix: "/mygoogle", Options: oauthOptions(map[string]any{"service_name": "My Google"})},
		{Type: "google", Prefix: "/othergoogle", Options: oauthOptions(map[string]any{"service_name": "Other Google"})},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)
	require.Len(t, authenticator.Backends(), 2)

	routes := authenticator.Handlers("")
	assert.Len(t, routes, 6)

	page, err := authenticator.LoginPage("", "")
	require.NoError(t, err)
	assert.Contains(t, string(page), "Sign in with My Google")
	assert.Contains(t, string(page), "Sign in with Other Google")
	assert.Contains(t, string(page), "/mygoogle/oauth_login")
	assert.Contains(t, string(page), "/othergoogle/oauth_login")
}

func TestNew_ExplicitServiceNames(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "gitlab", Prefix: "/gitlab", Options: oauthOptions(map[string]any{"service_name": "gitlab-service"})},
		{Type: "google", Prefix: "/google", Options: oauthOptions(map[string]any{"service_name": "google-service"})},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)

	page, err := authenticator.LoginPage("http://example.com", "")
	require.NoError(t, err)
	assert.Contains(t, string(page), "Sign in with gitlab-service")
	assert.Contains(t, string(page), "Sign in with google-service")
}

func TestNew_UsernamePrefix(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "gitlab", Prefix: "/gitlab", Options: oauthOptions(nil)},
		{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": "PAM", "password": "xxxx"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)
	require.Len(t, authenticator.Backends(), 2)

	assert.Equal(t, "GitLab", authenticator.Backends()[0].Tag())
	assert.Equal(t, "PAM", authenticator.Backends()[1].Tag())
}

func TestAuthenticate_UsernameCarriesPrefix(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": "Dummy", "password": "secret"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)
	require.Len(t, authenticator.Backends(), 1)

	username, err := authenticator.Backends()[0].Authenticate(context.Background(), map[string]string{
		"username": "test",
		"password": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dummy"+Separator+"test", username)
}

func TestAllowBlockChecks_AcrossBackends(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "local", Prefix: "/pam", Options: map[string]any{
			"service_name":  "PAM",
			"password":      "xxxx",
			"allowed_users": []string{"test"},
		}},
		{Type: "local", Prefix: "/pam", Options: map[string]any{
			"service_name":  "PAM2",
			"password":      "xxxx",
			"blocked_users": []string{"test2"},
		}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)
	require.Len(t, authenticator.Backends(), 2)

	first, second := authenticator.Backends()[0], authenticator.Backends()[1]

	// Unprefixed usernames never match a backend's lists
	assert.False(t, first.CheckAllowed("test"))
	assert.False(t, first.CheckBlocked("test"))

	assert.True(t, first.CheckAllowed("PAM:test"))
	assert.False(t, first.CheckBlocked("PAM:test"))

	// Empty allow list admits everyone carrying the right prefix
	assert.True(t, second.CheckAllowed("PAM2:test2"))
	assert.True(t, second.CheckBlocked("PAM2:test2"))

	// One backend's identity is never evaluated against the other's lists
	assert.False(t, second.CheckAllowed("PAM:test"))
	assert.False(t, first.CheckBlocked("PAM2:test2"))
}

func TestNew_AllowedUsersApplied(t *testing.T) {
	allowed := []string{"test_user1", "test_user2"}
	configs := []config.BackendConfig{
		{Type: "gitlab", Prefix: "/gitlab", Options: oauthOptions(map[string]any{"allowed_users": allowed})},
		{Type: "local", Prefix: "/pam", Options: map[string]any{
			"service_name":  "PAM",
			"password":      "xxxx",
			"allowed_users": allowed,
		}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)

	for _, wb := range authenticator.Backends() {
		for _, user := range allowed {
			assert.True(t, wb.CheckAllowed(wb.Tag()+Separator+user))
		}
		assert.False(t, wb.CheckAllowed(wb.Tag()+Separator+"someone_else"))
	}
}

func TestNoCrossAuthentication(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "local", Prefix: "/alpha", Options: map[string]any{"service_name": "Alpha", "password": "alpha-pass"}},
		{Type: "local", Prefix: "/beta", Options: map[string]any{"service_name": "Beta", "password": "beta-pass"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)

	alpha, beta := authenticator.Backends()[0], authenticator.Backends()[1]
	creds := map[string]string{"username": "user", "password": "alpha-pass"}

	username, err := alpha.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "Alpha:user", username)

	_, err = beta.Authenticate(context.Background(), creds)
	assert.Error(t, err)
}

func TestNew_RejectsSeparatorInServiceName(t *testing.T) {
	for _, invalid := range []string{"test me" + Separator, "second" + Separator + " test"} {
		configs := []config.BackendConfig{
			{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": invalid, "password": "xxxx"}},
		}

		authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
		assert.Nil(t, authenticator)

		var confErr *ConfigurationError
		require.ErrorAs(t, err, &confErr)
		assert.True(t, confErr.Explicit)
	}
}

func TestNew_UnknownBackendType(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "carrier-pigeon", Prefix: "/pigeon", Options: map[string]any{}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	assert.Nil(t, authenticator)
	assert.ErrorContains(t, err, "unknown backend type")
}

func TestLoginPage_NextHandling(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": "test-service", "password": "xxxx"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)

	t.Run("appends a non-empty next target to every link", func(t *testing.T) {
		page, err := authenticator.LoginPage("", "/next-destination")
		require.NoError(t, err)
		assert.Contains(t, string(page), `href="/pam/login?next=/next-destination"`)
	})

	t.Run("omits the query parameter when next is empty", func(t *testing.T) {
		page, err := authenticator.LoginPage("", "")
		require.NoError(t, err)
		assert.Contains(t, string(page), `href="/pam/login"`)
		assert.NotContains(t, string(page), "next=")
	})
}

func TestLoginPage_PreservesConfigurationOrder(t *testing.T) {
	configs := []config.BackendConfig{
		{Type: "gitlab", Prefix: "/gitlab", Options: oauthOptions(nil)},
		{Type: "github", Prefix: "/github", Options: oauthOptions(nil)},
		{Type: "local", Prefix: "/pam", Options: map[string]any{"service_name": "PAM", "password": "xxxx"}},
	}

	authenticator, err := New(configs, testLogger(t), metrics.NewCollector())
	require.NoError(t, err)

	page, err := authenticator.LoginPage("", "")
	require.NoError(t, err)

	rendered := string(page)
	gitlab := strings.Index(rendered, "Sign in with GitLab")
	github := strings.Index(rendered, "Sign in with GitHub")
	pam := strings.Index(rendered, "Sign in with PAM")

	require.NotEqual(t, -1, gitlab)
	require.NotEqual(t, -1, github)
	require.NotEqual(t, -1, pam)
	assert.Less(t, gitlab, github)
	assert.Less(t, github, pam)
}
