package adminapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

type fakeResponse struct {
	status  int
	body    []byte
	headers http.Header
}

type fakeHTTPClient struct {
	gets    map[string]fakeResponse
	posts   map[string]fakeResponse
	puts    map[string]fakeResponse
	deletes map[string]fakeResponse

	lastPutOpts ports.RequestOptions
}

func newFakeHTTPClient() *fakeHTTPClient {
	return &fakeHTTPClient{
		gets: map[string]fakeResponse{}, posts: map[string]fakeResponse{},
		puts: map[string]fakeResponse{}, deletes: map[string]fakeResponse{},
	}
}

func toResp(r fakeResponse) *ports.HTTPResponse {
	return &ports.HTTPResponse{Status: r.status, Data: r.body, Headers: r.headers}
}

func (f *fakeHTTPClient) Get(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	r := f.gets[url]
	return toResp(r), nil
}
func (f *fakeHTTPClient) Post(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	r := f.posts[url]
	return toResp(r), nil
}
func (f *fakeHTTPClient) Put(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	f.lastPutOpts = opts
	r := f.puts[url]
	return toResp(r), nil
}
func (f *fakeHTTPClient) Delete(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	r := f.deletes[url]
	return toResp(r), nil
}

type fakeTokenProvider struct{ token string }

func (f *fakeTokenProvider) GetValidToken(ctx context.Context) (string, error) {
	return f.token, nil
}

func newTestClient(http *fakeHTTPClient) *Client {
	return New(http, &fakeTokenProvider{token: "admin-token"}, nil, Config{ServerURL: "https://idp.example.test", Realm: "demo"})
}

func TestSearchUsers_DecodesList(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/users?max=20&search=alice"] = fakeResponse{status: 200, body: []byte(`[{"id":"u1","username":"alice","enabled":true}]`)}

	users, err := c.SearchUsers(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}

func TestCreateUser_ParsesIDFromLocationHeader(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	headers := make(http.Header)
	headers.Set("Location", c.baseURL+"/users/new-id-123")
	fhttp.posts[c.baseURL+"/users"] = fakeResponse{status: 201, headers: headers}

	id, err := c.CreateUser(context.Background(), User{Username: "bob", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "new-id-123", id)
}

func TestCreateUser_MissingLocationHeaderErrors(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.posts[c.baseURL+"/users"] = fakeResponse{status: 201}

	_, err := c.CreateUser(context.Background(), User{Username: "bob"})
	assert.Error(t, err)
}

func TestGetUserByID_NotFoundMapsToNilWithoutError(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/users/missing"] = fakeResponse{status: 404, body: []byte(`{"error":"not found"}`)}

	user, err := c.GetUserByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUserByID_UpstreamErrorStatusWrapped(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/users/broken"] = fakeResponse{status: 500, body: []byte(`{"error":"boom"}`)}

	_, err := c.GetUserByID(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestDeleteUser_NotFoundTreatedAsSuccess(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.deletes[c.baseURL+"/users/missing"] = fakeResponse{status: 404}

	err := c.DeleteUser(context.Background(), "missing")
	assert.NoError(t, err)
}

func TestGetRealmRoles_DecodesList(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/users/u1/role-mappings/realm"] = fakeResponse{status: 200, body: []byte(`[{"id":"r1","name":"admin"}]`)}

	roles, err := c.GetRealmRoles(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)
}

func TestRemoveRealmRoles_Succeeds(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.deletes[c.baseURL+"/users/u1/role-mappings/realm"] = fakeResponse{status: 204}

	err := c.RemoveRealmRoles(context.Background(), "u1", []Role{{Name: "admin"}})
	assert.NoError(t, err)
}

func TestAssignClientRoles_Succeeds(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.posts[c.baseURL+"/users/u1/role-mappings/clients/internal-1"] = fakeResponse{status: 204}

	err := c.AssignClientRoles(context.Background(), "u1", "internal-1", []Role{{Name: "viewer"}})
	assert.NoError(t, err)
}

func TestGetClientRoles_DecodesList(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/users/u1/role-mappings/clients/internal-1"] = fakeResponse{status: 200, body: []byte(`[{"id":"r2","name":"viewer"}]`)}

	roles, err := c.GetClientRoles(context.Background(), "u1", "internal-1")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "viewer", roles[0].Name)
}

func TestRemoveClientRoles_Succeeds(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.deletes[c.baseURL+"/users/u1/role-mappings/clients/internal-1"] = fakeResponse{status: 204}

	err := c.RemoveClientRoles(context.Background(), "u1", "internal-1", []Role{{Name: "viewer"}})
	assert.NoError(t, err)
}

func TestGetClientInternalID_MatchesExactClientID(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.gets[c.baseURL+"/clients?clientId=frontend"] = fakeResponse{status: 200, body: []byte(`[{"id":"internal-1","clientId":"frontend"}]`)}

	id, err := c.GetClientInternalID(context.Background(), "frontend")
	require.NoError(t, err)
	assert.Equal(t, "internal-1", id)
}

func TestResetPassword_SendsTemporaryFlag(t *testing.T) {
	fhttp := newFakeHTTPClient()
	c := newTestClient(fhttp)
	fhttp.puts[c.baseURL+"/users/u1/reset-password"] = fakeResponse{status: 204}

	err := c.ResetPassword(context.Background(), "u1", "newpass123", true)
	assert.NoError(t, err)

	body, ok := fhttp.lastPutOpts.JSONBody.(credentialRepresentation)
	require.True(t, ok)
	assert.True(t, body.Temporary)
}
