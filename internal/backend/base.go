// internal/backend/base.go
package backend

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/slices"
)

// CommonOptions are the option fields every backend kind understands.
type CommonOptions struct {
	// ServiceName is the operator-chosen display name for this backend
	ServiceName string `mapstructure:"service_name"`

	// AllowedUsers restricts sign-in to the listed usernames (empty = all)
	AllowedUsers []string `mapstructure:"allowed_users"`

	// BlockedUsers rejects the listed usernames unconditionally
	BlockedUsers []string `mapstructure:"blocked_users"`
}

// Base carries the behavior shared by all backend kinds: display naming,
// allow/block list checks and default login/logout URL construction.
// Concrete backends embed it.
type Base struct {
	defaultName  string
	serviceName  string
	allowedUsers []string
	blockedUsers []string
	loginPath    string
	logoutPath   string
}

// NewBase builds a Base from the common option fields. defaultName is the
// backend kind's built-in label, loginPath the path LoginURL appends.
func NewBase(defaultName, loginPath string, common CommonOptions) Base {
	return Base{
		defaultName:  defaultName,
		serviceName:  common.ServiceName,
		allowedUsers: common.AllowedUsers,
		blockedUsers: common.BlockedUsers,
		loginPath:    loginPath,
		logoutPath:   "/logout",
	}
}

// Name returns the default display name for this backend kind.
func (b Base) Name() string { return b.defaultName }

// ServiceName returns the configured display name, or "" if unset.
func (b Base) ServiceName() string { return b.serviceName }

// DisplayName returns the effective display name: the configured service
// name when present, the default label otherwise.
func (b Base) DisplayName() string {
	if b.serviceName != "" {
		return b.serviceName
	}
	return b.defaultName
}

// CheckAllowed reports whether username passes the allow list. An empty
// allow list admits everyone.
func (b Base) CheckAllowed(username string) bool {
	if len(b.allowedUsers) == 0 {
		return true
	}
	return slices.Contains(b.allowedUsers, username)
}

// CheckBlocked reports whether username is on the block list.
func (b Base) CheckBlocked(username string) bool {
	return slices.Contains(b.blockedUsers, username)
}

// LoginURL returns the login URL under base.
func (b Base) LoginURL(base string) string {
	return joinURL(base, b.loginPath)
}

// LogoutURL returns the logout URL under base.
func (b Base) LogoutURL(base string) string {
	return joinURL(base, b.logoutPath)
}

// Authorize applies the allow and block lists to an already-authenticated
// username. The block list wins over the allow list.
func (b Base) Authorize(username string) error {
	if b.CheckBlocked(username) {
		return fmt.Errorf("user %q: %w", username, ErrBlocked)
	}
	if !b.CheckAllowed(username) {
		return fmt.Errorf("user %q: %w", username, ErrNotAllowed)
	}
	return nil
}

// DecodeOptions decodes an options mapping into a backend kind's typed
// config struct. Decoding is weakly typed so YAML scalars coming through
// viper (ints, bools) land in string fields without operator ceremony.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to build options decoder: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("failed to decode backend options: %w", err)
	}
	return nil
}

// joinURL joins base and path with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
