package multiclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewarden-like/idpguard/internal/oidc"
	"github.com/hivewarden-like/idpguard/internal/ports"
)

const discoveryBody = `{
	"issuer": "https://idp.example.test/realms/demo",
	"authorization_endpoint": "https://idp.example.test/realms/demo/protocol/openid-connect/auth",
	"token_endpoint": "https://idp.example.test/realms/demo/protocol/openid-connect/token",
	"jwks_uri": "https://idp.example.test/realms/demo/protocol/openid-connect/certs"
}`

// allSucceedHTTP answers every discovery fetch with a valid document.
type allSucceedHTTP struct{}

func (allSucceedHTTP) Get(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 200, Data: []byte(discoveryBody)}, nil
}
func (allSucceedHTTP) Post(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 200}, nil
}
func (allSucceedHTTP) Put(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 200}, nil
}
func (allSucceedHTTP) Delete(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 200}, nil
}

// allFailHTTP fails every discovery fetch.
type allFailHTTP struct{}

func (allFailHTTP) Get(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 503, Data: []byte("unavailable")}, nil
}
func (allFailHTTP) Post(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 503}, nil
}
func (allFailHTTP) Put(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 503}, nil
}
func (allFailHTTP) Delete(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return &ports.HTTPResponse{Status: 503}, nil
}

func testConfig() Config {
	return Config{
		ServerURL: "https://idp.example.test",
		Realm:     "demo",
		Clients: []ClientSpec{
			{Name: "frontend", ClientID: "frontend"},
			{Name: "service", ClientID: "service"},
			{Name: "admin", ClientID: "admin"},
		},
	}
}

func TestInit_AllClientsSucceed(t *testing.T) {
	f := New(oidc.Deps{Http: allSucceedHTTP{}})

	err := f.Init(context.Background(), testConfig())
	require.NoError(t, err)

	for _, name := range []string{"frontend", "service", "admin"} {
		_, ok := f.Client(name)
		assert.True(t, ok, "expected client %q to be present", name)
	}
	assert.Empty(t, f.Failed())
}

func TestInit_ErrorsOnlyWhenEveryClientFails(t *testing.T) {
	f := New(oidc.Deps{Http: allFailHTTP{}})

	err := f.Init(context.Background(), testConfig())
	assert.Error(t, err)

	_, ok := f.Client("frontend")
	assert.False(t, ok)
	assert.Len(t, f.Failed(), 3)
}

func TestShutdown_DisposesEveryClientWithoutPanicking(t *testing.T) {
	f := New(oidc.Deps{Http: allSucceedHTTP{}})
	require.NoError(t, f.Init(context.Background(), testConfig()))

	f.Shutdown()
}
