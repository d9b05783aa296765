package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

type tokenResponseWire struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	IDToken          string `json:"id_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
}

func (w tokenResponseWire) toTokenResponse() types.TokenResponse {
	return types.TokenResponse{
		AccessToken:      w.AccessToken,
		RefreshToken:     w.RefreshToken,
		IDToken:          w.IDToken,
		TokenType:        w.TokenType,
		ExpiresIn:        w.ExpiresIn,
		RefreshExpiresIn: w.RefreshExpiresIn,
		Scope:            w.Scope,
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form map[string]string) (*ports.HTTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.deps.Http.Post(ctx, endpoint, ports.RequestOptions{
		Form:    form,
		Timeout: c.cfg.RequestTimeout,
	})
}

func (c *Client) tokenEndpoint(ctx context.Context) (string, error) {
	doc, err := c.discoveryDocument(ctx)
	if err != nil {
		return "", err
	}
	return doc.TokenEndpoint, nil
}

func decodeTokenResponse(resp *ports.HTTPResponse) (types.TokenResponse, error) {
	if resp.Status < 200 || resp.Status >= 300 {
		return types.TokenResponse{}, fmt.Errorf("%w: token endpoint returned status %d", ErrUpstream, resp.Status)
	}
	var wire tokenResponseWire
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		return types.TokenResponse{}, fmt.Errorf("%w: decode token response: %v", ErrUpstream, err)
	}
	return wire.toTokenResponse(), nil
}

// AuthenticateClientCredentials runs the client_credentials grant.
// Requires a configured client secret.
func (c *Client) AuthenticateClientCredentials(ctx context.Context, scopes []string) (types.TokenResponse, error) {
	if c.cfg.ClientSecret == "" {
		return types.TokenResponse{}, fmt.Errorf("%w: client_credentials requires a client secret", ErrMisconfigured)
	}
	endpoint, err := c.tokenEndpoint(ctx)
	if err != nil {
		return types.TokenResponse{}, err
	}

	form := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	if len(scopes) > 0 {
		form["scope"] = strings.Join(scopes, " ")
	}

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return types.TokenResponse{}, wrapTimeout(err, "client_credentials grant")
	}
	return decodeTokenResponse(resp)
}

// ExchangeAuthorizationCode runs the authorization_code grant, with an
// optional PKCE code verifier.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier string) (types.TokenResponse, error) {
	endpoint, err := c.tokenEndpoint(ctx)
	if err != nil {
		return types.TokenResponse{}, err
	}

	form := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     c.cfg.ClientID,
		"redirect_uri":  c.cfg.RedirectURI,
		"client_secret": c.cfg.ClientSecret,
	}
	if codeVerifier != "" {
		form["code_verifier"] = codeVerifier
	}

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return types.TokenResponse{}, wrapTimeout(err, "authorization_code grant")
	}
	return decodeTokenResponse(resp)
}

// RefreshToken runs the refresh_token grant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (types.TokenResponse, error) {
	endpoint, err := c.tokenEndpoint(ctx)
	if err != nil {
		return types.TokenResponse{}, err
	}

	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return types.TokenResponse{}, wrapTimeout(err, "refresh_token grant")
	}
	return decodeTokenResponse(resp)
}

// AuthenticateWithPassword runs the resource-owner password grant and
// stamps the resulting TokenResponse with a freshly generated session ID.
func (c *Client) AuthenticateWithPassword(ctx context.Context, username, password, clientID string) (types.TokenResponse, error) {
	endpoint, err := c.tokenEndpoint(ctx)
	if err != nil {
		return types.TokenResponse{}, err
	}
	if clientID == "" {
		clientID = c.cfg.ClientID
	}

	form := map[string]string{
		"grant_type":    "password",
		"username":      username,
		"password":      password,
		"client_id":     clientID,
		"client_secret": c.cfg.ClientSecret,
	}

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return types.TokenResponse{}, wrapTimeout(err, "password grant")
	}
	tr, err := decodeTokenResponse(resp)
	if err != nil {
		return types.TokenResponse{}, err
	}
	tr.SessionID = uuid.New().String()
	return tr, nil
}

// IntrospectToken runs the remote introspection path: POST to the
// introspection endpoint and trust its active:true/false verdict rather
// than verifying a signature locally.
func (c *Client) IntrospectToken(ctx context.Context, token string) *types.AuthenticationResult {
	digest := sha256Hex(token)
	if item := c.introspCache.Get(digest); item != nil {
		cached := item.Value()
		cached.FromCache = true
		return &cached
	}

	doc, err := c.discoveryDocument(ctx)
	if err != nil || doc.IntrospectionEndpoint == "" {
		return failed(ErrMisconfigured.Error())
	}

	resp, err := c.postForm(ctx, doc.IntrospectionEndpoint, map[string]string{
		"token":         token,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		return failed(wrapTimeout(err, "introspection").Error())
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return failed(ErrUpstream.Error())
	}

	var body struct {
		Active            bool   `json:"active"`
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		Scope             string `json:"scope"`
		Exp               int64  `json:"exp"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return failed(ErrUpstream.Error())
	}

	if !body.Active {
		result := *failed("inactive")
		c.introspCache.Set(digest, result, c.cfg.IntrospectionCacheTTL)
		return &result
	}

	userInfo := claimsToUserInfo(body.Sub, body.PreferredUsername, body.Email, body.Name, nil, nil)
	var expiresAt time.Time
	if body.Exp > 0 {
		expiresAt = time.Unix(body.Exp, 0)
	}
	result := types.AuthenticationResult{
		Success:   true,
		User:      userInfo,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	c.introspCache.Set(digest, result, c.cfg.IntrospectionCacheTTL)
	return &result
}

// GetUserInfo calls the userinfo endpoint with accessToken as bearer
// credential, caching the result for UserinfoCacheTTL.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error) {
	digest := sha256Hex(accessToken)
	if item := c.userinfoCache.Get(digest); item != nil {
		v := item.Value()
		return &v, nil
	}

	doc, err := c.discoveryDocument(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.deps.Http.Get(ctx, doc.UserinfoEndpoint, ports.RequestOptions{
		Headers: map[string]string{"Authorization": "Bearer " + accessToken},
		Timeout: c.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, wrapTimeout(err, "userinfo")
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrUpstream, resp.Status)
	}

	var body struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		Name              string `json:"name"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrUpstream, err)
	}

	info := claimsToUserInfo(body.Sub, body.PreferredUsername, body.Email, body.Name, nil, nil)
	c.userinfoCache.Set(digest, *info, c.cfg.UserinfoCacheTTL)
	return info, nil
}

// GetAuthorizationURL builds the authorization-code endpoint URL. The
// only I/O is the discovery fetch on a not-yet-initialized Client.
func (c *Client) GetAuthorizationURL(ctx context.Context, state, nonce, codeChallenge string, extraScopes []string) (string, error) {
	doc, err := c.discoveryDocument(ctx)
	if err != nil {
		return "", err
	}

	scopes := append(append([]string{}, c.cfg.Scopes...), extraScopes...)
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	if state != "" {
		q.Set("state", state)
	}
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "S256")
	}

	return doc.AuthorizationEndpoint + "?" + q.Encode(), nil
}

// GetLogoutURL builds the end-session endpoint URL. The only I/O is the
// discovery fetch on a not-yet-initialized Client.
func (c *Client) GetLogoutURL(ctx context.Context, idToken, postLogoutRedirectURI string) (string, error) {
	doc, err := c.discoveryDocument(ctx)
	if err != nil {
		return "", err
	}
	if doc.EndSessionEndpoint == "" {
		return "", fmt.Errorf("%w: IdP does not advertise an end_session_endpoint", ErrMisconfigured)
	}

	q := url.Values{}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if len(q) == 0 {
		return doc.EndSessionEndpoint, nil
	}
	return doc.EndSessionEndpoint + "?" + q.Encode(), nil
}

// Logout posts refreshToken to the IdP's logout endpoint and revokes the
// session locally so a validator that hasn't yet observed the IdP-side
// revocation still rejects the token immediately.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	doc, err := c.discoveryDocument(ctx)
	if err != nil {
		return err
	}
	logoutEndpoint := strings.TrimSuffix(doc.TokenEndpoint, "/token") + "/logout"

	resp, err := c.postForm(ctx, logoutEndpoint, map[string]string{
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		return wrapTimeout(err, "logout")
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("%w: logout endpoint returned status %d", ErrUpstream, resp.Status)
	}

	c.revokeLocally(refreshToken)
	return nil
}

// revokeLocally best-effort revokes the session tied to refreshToken so
// a validator that hasn't yet observed the IdP-side logout still
// rejects it immediately. refreshToken may not be a JWT (opaque tokens
// are a valid Keycloak configuration), in which case this is a no-op —
// the IdP-side revocation above is authoritative either way.
func (c *Client) revokeLocally(refreshToken string) {
	parsed, err := jwt.ParseSigned(refreshToken, []jose.SignatureAlgorithm{jose.RS256, jose.ES256})
	if err != nil {
		return
	}
	var cl jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&cl); err != nil {
		return
	}
	if cl.ID == "" || cl.Expiry == nil {
		return
	}
	c.RevokeSession(cl.ID, cl.Expiry.Time())
}
