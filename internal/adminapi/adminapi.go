// Package adminapi is a typed client over the IdP's admin REST API
// (user search/CRUD, password reset, role assignment), authenticated
// via internal/admintoken so callers never juggle a bearer token
// directly. Built on the same ports.HttpClient capability and
// JSON decode-and-wrap-error discipline used for token-endpoint calls.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// ErrUpstream wraps any non-2xx admin-API response.
var ErrUpstream = fmt.Errorf("adminapi: upstream error")

// TokenProvider supplies a valid bearer token for admin-API calls —
// satisfied by *admintoken.Provider.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// SessionRevoker invalidates every previously issued token for a
// subject — satisfied by *oidc.Client.
type SessionRevoker interface {
	RevokeAllForSubject(sub string, cutover time.Time)
}

// Config configures the client's base URL and realm.
type Config struct {
	ServerURL      string
	Realm          string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Client is the admin REST API client.
type Client struct {
	http    ports.HttpClient
	token   TokenProvider
	logger  ports.Logger
	revoker SessionRevoker
	cfg     Config

	baseURL string
}

// SetSessionRevoker wires revoker so password-reset calls also
// invalidate the user's previously issued tokens locally. Optional —
// without it, ResetPassword only changes the credential upstream.
func (c *Client) SetSessionRevoker(revoker SessionRevoker) {
	c.revoker = revoker
}

// New constructs a Client. logger may be nil.
func New(httpClient ports.HttpClient, token TokenProvider, logger ports.Logger, cfg Config) *Client {
	cfg = cfg.withDefaults()
	base := strings.TrimSuffix(cfg.ServerURL, "/") + "/admin/realms/" + url.PathEscape(cfg.Realm)
	return &Client{http: httpClient, token: token, logger: logger, cfg: cfg, baseURL: base}
}

func (c *Client) warn(msg string, ctx map[string]any) {
	if c.logger != nil {
		c.logger.Warn(msg, ctx)
	}
}

// User is the admin API's user representation.
type User struct {
	ID            string   `json:"id,omitempty"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	FirstName     string   `json:"firstName,omitempty"`
	LastName      string   `json:"lastName,omitempty"`
	Enabled       bool     `json:"enabled"`
	EmailVerified bool     `json:"emailVerified,omitempty"`
	RequiredAttrs []string `json:"requiredActions,omitempty"`
}

// Role is the admin API's realm-role representation.
type Role struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := c.token.GetValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("adminapi: acquire token: %w", err)
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}, nil
}

func (c *Client) requestOpts(ctx context.Context, body any) (ports.RequestOptions, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return ports.RequestOptions{}, err
	}
	return ports.RequestOptions{Headers: headers, JSONBody: body, Timeout: c.cfg.RequestTimeout}, nil
}

func checkStatus(resp *ports.HTTPResponse) error {
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.Status, string(resp.Data))
	}
	return nil
}

// SearchUsers queries /users?search=<query>&max=<max>.
func (c *Client) SearchUsers(ctx context.Context, query string, max int) ([]User, error) {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 20
	}
	q := url.Values{}
	q.Set("search", query)
	q.Set("max", fmt.Sprintf("%d", max))

	resp, err := c.http.Get(ctx, c.baseURL+"/users?"+q.Encode(), opts)
	if err != nil {
		return nil, fmt.Errorf("adminapi: search users: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(resp.Data, &users); err != nil {
		return nil, fmt.Errorf("adminapi: decode users: %w", err)
	}
	return users, nil
}

// GetUserByID retrieves /users/{id}. A 404 is not an error — it maps
// to (nil, nil), since "no such user" is an expected outcome here.
func (c *Client) GetUserByID(ctx context.Context, id string) (*User, error) {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Get(ctx, c.baseURL+"/users/"+url.PathEscape(id), opts)
	if err != nil {
		return nil, fmt.Errorf("adminapi: get user: %w", err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(resp.Data, &user); err != nil {
		return nil, fmt.Errorf("adminapi: decode user: %w", err)
	}
	return &user, nil
}

// CreateUser posts a new user, returning its generated ID parsed from
// the Location response header (the admin API's create endpoints
// return 201 with no body, only Location: .../users/{id}).
func (c *Client) CreateUser(ctx context.Context, user User) (string, error) {
	opts, err := c.requestOpts(ctx, user)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Post(ctx, c.baseURL+"/users", opts)
	if err != nil {
		return "", fmt.Errorf("adminapi: create user: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	return idFromLocation(resp.Headers.Get("Location"))
}

func idFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("adminapi: create response missing Location header")
	}
	parts := strings.Split(strings.TrimRight(location, "/"), "/")
	id := parts[len(parts)-1]
	if id == "" {
		return "", fmt.Errorf("adminapi: could not parse id from Location header %q", location)
	}
	return id, nil
}

// UpdateUser puts the full user representation to /users/{id}.
func (c *Client) UpdateUser(ctx context.Context, id string, user User) error {
	opts, err := c.requestOpts(ctx, user)
	if err != nil {
		return err
	}
	resp, err := c.http.Put(ctx, c.baseURL+"/users/"+url.PathEscape(id), opts)
	if err != nil {
		return fmt.Errorf("adminapi: update user: %w", err)
	}
	return checkStatus(resp)
}

// DeleteUser removes /users/{id}. A 404 is treated as success — the
// end state the caller wants (no such user) already holds — but is
// logged as a warning since it usually indicates a stale caller-side
// reference.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Delete(ctx, c.baseURL+"/users/"+url.PathEscape(id), opts)
	if err != nil {
		return fmt.Errorf("adminapi: delete user: %w", err)
	}
	if resp.Status == http.StatusNotFound {
		c.warn("delete user: user already absent", map[string]any{"user_id": id})
		return nil
	}
	return checkStatus(resp)
}

// credentialRepresentation mirrors the admin API's reset-password body.
type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// ResetPassword sets a (optionally temporary) password for
// /users/{id}/reset-password, then revokes the user's existing
// sessions locally (if a SessionRevoker is wired) so a leaked or
// soon-to-be-retired credential can't keep validating a live token.
func (c *Client) ResetPassword(ctx context.Context, id, newPassword string, temporary bool) error {
	body := credentialRepresentation{Type: "password", Value: newPassword, Temporary: temporary}
	opts, err := c.requestOpts(ctx, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Put(ctx, c.baseURL+"/users/"+url.PathEscape(id)+"/reset-password", opts)
	if err != nil {
		return fmt.Errorf("adminapi: reset password: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if c.revoker != nil {
		c.revoker.RevokeAllForSubject(id, time.Now())
	}
	return nil
}

// AssignRealmRoles posts realm-level role mappings to
// /users/{id}/role-mappings/realm.
func (c *Client) AssignRealmRoles(ctx context.Context, userID string, roles []Role) error {
	opts, err := c.requestOpts(ctx, roles)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(ctx, c.baseURL+"/users/"+url.PathEscape(userID)+"/role-mappings/realm", opts)
	if err != nil {
		return fmt.Errorf("adminapi: assign realm roles: %w", err)
	}
	return checkStatus(resp)
}

// GetRealmRoles retrieves /users/{id}/role-mappings/realm.
func (c *Client) GetRealmRoles(ctx context.Context, userID string) ([]Role, error) {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Get(ctx, c.baseURL+"/users/"+url.PathEscape(userID)+"/role-mappings/realm", opts)
	if err != nil {
		return nil, fmt.Errorf("adminapi: get realm roles: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var roles []Role
	if err := json.Unmarshal(resp.Data, &roles); err != nil {
		return nil, fmt.Errorf("adminapi: decode realm roles: %w", err)
	}
	return roles, nil
}

// RemoveRealmRoles deletes realm-level role mappings via a DELETE with
// a JSON body, the admin API's convention for this endpoint.
func (c *Client) RemoveRealmRoles(ctx context.Context, userID string, roles []Role) error {
	opts, err := c.requestOpts(ctx, roles)
	if err != nil {
		return err
	}
	resp, err := c.http.Delete(ctx, c.baseURL+"/users/"+url.PathEscape(userID)+"/role-mappings/realm", opts)
	if err != nil {
		return fmt.Errorf("adminapi: remove realm roles: %w", err)
	}
	return checkStatus(resp)
}

// AssignClientRoles posts client-level role mappings to
// /users/{id}/role-mappings/clients/{clientInternalID}. clientInternalID
// is the UUID returned by GetClientInternalID, not the client_id.
func (c *Client) AssignClientRoles(ctx context.Context, userID, clientInternalID string, roles []Role) error {
	opts, err := c.requestOpts(ctx, roles)
	if err != nil {
		return err
	}
	path := c.baseURL + "/users/" + url.PathEscape(userID) + "/role-mappings/clients/" + url.PathEscape(clientInternalID)
	resp, err := c.http.Post(ctx, path, opts)
	if err != nil {
		return fmt.Errorf("adminapi: assign client roles: %w", err)
	}
	return checkStatus(resp)
}

// GetClientRoles retrieves /users/{id}/role-mappings/clients/{clientInternalID}.
func (c *Client) GetClientRoles(ctx context.Context, userID, clientInternalID string) ([]Role, error) {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return nil, err
	}
	path := c.baseURL + "/users/" + url.PathEscape(userID) + "/role-mappings/clients/" + url.PathEscape(clientInternalID)
	resp, err := c.http.Get(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("adminapi: get client roles: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var roles []Role
	if err := json.Unmarshal(resp.Data, &roles); err != nil {
		return nil, fmt.Errorf("adminapi: decode client roles: %w", err)
	}
	return roles, nil
}

// RemoveClientRoles deletes client-level role mappings via a DELETE
// with a JSON body.
func (c *Client) RemoveClientRoles(ctx context.Context, userID, clientInternalID string, roles []Role) error {
	opts, err := c.requestOpts(ctx, roles)
	if err != nil {
		return err
	}
	path := c.baseURL + "/users/" + url.PathEscape(userID) + "/role-mappings/clients/" + url.PathEscape(clientInternalID)
	resp, err := c.http.Delete(ctx, path, opts)
	if err != nil {
		return fmt.Errorf("adminapi: remove client roles: %w", err)
	}
	return checkStatus(resp)
}

// GetClientInternalID resolves a client_id (e.g. "frontend") to its
// internal UUID via /clients?clientId=<id>, required before
// client-role assignment calls that address clients by internal ID.
func (c *Client) GetClientInternalID(ctx context.Context, clientID string) (string, error) {
	opts, err := c.requestOpts(ctx, nil)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("clientId", clientID)

	resp, err := c.http.Get(ctx, c.baseURL+"/clients?"+q.Encode(), opts)
	if err != nil {
		return "", fmt.Errorf("adminapi: get client internal id: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var clients []struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(resp.Data, &clients); err != nil {
		return "", fmt.Errorf("adminapi: decode clients: %w", err)
	}
	for _, cl := range clients {
		if cl.ClientID == clientID {
			return cl.ID, nil
		}
	}
	return "", fmt.Errorf("adminapi: no client found with clientId %q", clientID)
}
