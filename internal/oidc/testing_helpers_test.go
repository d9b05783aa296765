package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// fakeHTTPClient routes GET/POST calls by exact URL match, letting tests
// stand in for discovery, JWKS, and token-endpoint responses without a
// real network or a live Keycloak instance.
type fakeHTTPClient struct {
	responses map[string]fakeResponse
	posts     map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body   []byte
	err    error
}

func newFakeHTTPClient() *fakeHTTPClient {
	return &fakeHTTPClient{responses: map[string]fakeResponse{}, posts: map[string]fakeResponse{}}
}

func (f *fakeHTTPClient) Get(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	r, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("fakeHTTPClient: no stubbed GET response for %s", url)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ports.HTTPResponse{Status: r.status, Data: r.body}, nil
}

func (f *fakeHTTPClient) Post(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	r, ok := f.posts[url]
	if !ok {
		return nil, fmt.Errorf("fakeHTTPClient: no stubbed POST response for %s", url)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ports.HTTPResponse{Status: r.status, Data: r.body}, nil
}

func (f *fakeHTTPClient) Put(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return nil, fmt.Errorf("fakeHTTPClient: PUT not stubbed")
}

func (f *fakeHTTPClient) Delete(ctx context.Context, url string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return nil, fmt.Errorf("fakeHTTPClient: DELETE not stubbed")
}

// testKeyPair holds an RSA key and its JWKS representation for signing
// and verifying test tokens.
type testKeyPair struct {
	key  *rsa.PrivateKey
	kid  string
	jwks jose.JSONWebKeySet
}

func newTestKeyPair(t interface{ Fatalf(string, ...any) }, kid string) testKeyPair {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: string(jose.RS256), Use: "sig"}
	return testKeyPair{key: key, kid: kid, jwks: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}}
}

func (k testKeyPair) sign(t interface{ Fatalf(string, ...any) }, claims any) string {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: k.key}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]any{"kid": k.kid},
	})
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	tok, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func mustJSON(t interface{ Fatalf(string, ...any) }, v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
