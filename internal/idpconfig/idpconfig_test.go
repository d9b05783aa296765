package idpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClientsYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_ReadsBaseConfigFromFile(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: frontend
    client_id: frontend-client
    redirect_uri: https://app.example.test/callback
    scopes: [openid, profile]
  - name: service
    client_id: service-client
    client_secret: service-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.test", cfg.ServerURL)
	assert.Equal(t, "demo", cfg.Realm)
	require.Len(t, cfg.Clients, 2)
	assert.Equal(t, "frontend-client", cfg.Clients[0].ClientID)
	assert.Equal(t, []string{"openid", "profile"}, cfg.Clients[0].Scopes)
}

func TestLoad_EnvOverridesServerURLAndRealm(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: frontend
    client_id: frontend-client
`)
	t.Setenv("KEYCLOAK_SERVER_URL", "https://idp.override.test")
	t.Setenv("KEYCLOAK_REALM", "override-realm")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.override.test", cfg.ServerURL)
	assert.Equal(t, "override-realm", cfg.Realm)
}

func TestLoad_EnvOverridesFrontendAndAPIBaseURL(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: frontend
    client_id: frontend-client
`)
	t.Setenv("FRONTEND_URL", "https://app.example.test")
	t.Setenv("API_BASE_URL", "https://api.example.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.test", cfg.FrontendURL)
	assert.Equal(t, "https://api.example.test", cfg.APIBaseURL)
}

func TestLoad_EnvOverridesClientSecretByName(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: service
    client_id: service-client
    client_secret: from-file
`)
	t.Setenv("KEYCLOAK_SERVICE_CLIENT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "from-env", cfg.Clients[0].ClientSecret)
}

func TestLoad_EnvCanIntroduceANewClientNotInFile(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: frontend
    client_id: frontend-client
`)
	t.Setenv("KEYCLOAK_TRACKER_CLIENT_ID", "tracker-client")
	t.Setenv("KEYCLOAK_TRACKER_SCOPES", "openid, tracking")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Clients, 2)

	var found bool
	for _, c := range cfg.Clients {
		if c.Name != "tracker" {
			continue
		}
		found = true
		assert.Equal(t, "tracker-client", c.ClientID)
		assert.Equal(t, []string{"openid", "tracking"}, c.Scopes)
	}
	assert.True(t, found, "expected a tracker client to be introduced by environment variables")
}

func TestLoad_MissingFileIsNotAnErrorWhenEnvSuppliesEverything(t *testing.T) {
	t.Setenv("KEYCLOAK_SERVER_URL", "https://idp.example.test")
	t.Setenv("KEYCLOAK_REALM", "demo")
	t.Setenv("KEYCLOAK_SERVICE_CLIENT_ID", "service-client")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.test", cfg.ServerURL)
	require.Len(t, cfg.Clients, 1)
}

func TestLoad_ErrorsWhenNoClientsConfigured(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ErrorsWhenClientMissingClientID(t *testing.T) {
	path := writeClientsYAML(t, `
server_url: https://idp.example.test
realm: demo
clients:
  - name: frontend
`)

	_, err := Load(path)
	assert.Error(t, err)
}
