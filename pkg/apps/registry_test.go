package apps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossfield/ssobroker/pkg/identity"
)

const registryYAML = `
applications:
  - key: ticket-tool
    display_name: Ticket Tool
    public: true
    start_url: https://tickets.example.com
    email_ordering: "ddd.com, bbb.com"
    provide_immutable_email: false
  - key: wiki
    display_name: Wiki
    default_access_allowed: true
  - key: payroll
    display_name: Payroll
    allow_access_by_email_suffix:
      - "@staff.example.com"
    can_view_all_user_settings: true
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "applications.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoad(t *testing.T) {
	reg, err := NewRegistry(writeRegistry(t, registryYAML), nil)
	require.NoError(t, err)

	app, ok := reg.Get("ticket-tool")
	require.True(t, ok)
	assert.Equal(t, "Ticket Tool", app.DisplayName)
	assert.Equal(t, []string{"ddd.com", "bbb.com"}, app.EmailOrder(nil))

	wiki, ok := reg.Get("wiki")
	require.True(t, ok)
	assert.Equal(t, []string{"aaa.com"}, wiki.EmailOrder([]string{"aaa.com"}))

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "payroll", all[0].Key)
}

func TestRegistryRejectsReservedKeys(t *testing.T) {
	_, err := NewRegistry(writeRegistry(t, "applications:\n  - key: global\n"), nil)
	assert.Error(t, err)

	_, err = NewStaticRegistry([]Application{{Key: "@"}})
	assert.Error(t, err)

	_, err = NewStaticRegistry([]Application{{Key: "a"}, {Key: "a"}})
	assert.Error(t, err)
}

func TestRegistryReloadKeepsLastGood(t *testing.T) {
	path := writeRegistry(t, registryYAML)
	reg, err := NewRegistry(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("applications: ["), 0o644))
	assert.Error(t, reg.Reload())

	// Previous registry still serves.
	_, ok := reg.Get("wiki")
	assert.True(t, ok)
}

func TestCanAccess(t *testing.T) {
	ident := &identity.Identity{
		ID:           "u1",
		PrimaryEmail: "jo@aaa.com",
		Emails: []identity.EmailAddress{
			{Email: "jo@aaa.com"},
			{Email: "jo@staff.example.com"},
		},
		PermittedApps: []string{"ticket-tool"},
	}

	open := &Application{Key: "wiki", DefaultAccessAllowed: true}
	assert.True(t, open.CanAccess(ident))

	bySuffix := &Application{Key: "payroll", AllowAccessByEmailSuffix: []string{"@staff.example.com"}}
	assert.True(t, bySuffix.CanAccess(ident))

	byGrant := &Application{Key: "ticket-tool"}
	assert.True(t, byGrant.CanAccess(ident))

	closed := &Application{Key: "secrets"}
	assert.False(t, closed.CanAccess(ident))
}
