// Package idpconfig loads the multi-client factory's configuration: a
// shared server URL and realm, plus a named client spec per audience
// (frontend, service, websocket, admin, tracker). A clients.yaml file
// supplies the base configuration; environment variables override it
// field-by-field so deployments can inject secrets without baking them
// into the file.
package idpconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hivewarden-like/idpguard/internal/multiclient"
)

// fileClientSpec mirrors multiclient.ClientSpec with yaml tags.
type fileClientSpec struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
}

// fileConfig is the clients.yaml document shape.
type fileConfig struct {
	ServerURL   string           `yaml:"server_url"`
	Realm       string           `yaml:"realm"`
	FrontendURL string           `yaml:"frontend_url"`
	APIBaseURL  string           `yaml:"api_base_url"`
	Clients     []fileClientSpec `yaml:"clients"`
}

// envPrefix namespaces the Keycloak-specific override variables this
// package reads: KEYCLOAK_SERVER_URL, KEYCLOAK_REALM, and per-audience
// KEYCLOAK_<NAME>_CLIENT_ID / KEYCLOAK_<NAME>_CLIENT_SECRET.
// FRONTEND_URL and API_BASE_URL are unprefixed, since they name the
// fronted services rather than the identity provider.
const envPrefix = "KEYCLOAK_"

// Load builds a multiclient.Config from an optional clients.yaml file
// at path (skipped if path is empty or the file doesn't exist) and
// environment variable overrides. At least a server URL, realm, and
// one client must be present in the end, or Load returns an error.
func Load(path string) (multiclient.Config, error) {
	var file fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &file); err != nil {
				return multiclient.Config{}, fmt.Errorf("idpconfig: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file is fine — environment variables alone can supply
			// a complete configuration.
		default:
			return multiclient.Config{}, fmt.Errorf("idpconfig: read %s: %w", path, err)
		}
	}

	cfg := multiclient.Config{
		ServerURL:   file.ServerURL,
		Realm:       file.Realm,
		FrontendURL: file.FrontendURL,
		APIBaseURL:  file.APIBaseURL,
	}
	if v := os.Getenv(envPrefix + "SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(envPrefix + "REALM"); v != "" {
		cfg.Realm = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}

	specsByName := map[string]fileClientSpec{}
	order := make([]string, 0, len(file.Clients))
	for _, spec := range file.Clients {
		if _, seen := specsByName[spec.Name]; !seen {
			order = append(order, spec.Name)
		}
		specsByName[spec.Name] = spec
	}

	applyClientEnvOverrides(specsByName, &order)

	cfg.Clients = make([]multiclient.ClientSpec, 0, len(order))
	for _, name := range order {
		spec := specsByName[name]
		cfg.Clients = append(cfg.Clients, multiclient.ClientSpec{
			Name:         spec.Name,
			ClientID:     spec.ClientID,
			ClientSecret: spec.ClientSecret,
			RedirectURI:  spec.RedirectURI,
			Scopes:       spec.Scopes,
		})
	}

	if err := validate(cfg); err != nil {
		return multiclient.Config{}, err
	}
	return cfg, nil
}

// applyClientEnvOverrides scans environment variables shaped
// KEYCLOAK_<NAME>_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URI /
// _SCOPES, overriding or introducing client specs by name (one of
// frontend, service, websocket, admin, tracker, or any custom
// audience). <NAME> is lowercased and then matched exactly against each
// known client's Name, so a file-defined Name with upper-case letters
// is not matched and a new lower-case client is introduced instead.
func applyClientEnvOverrides(specsByName map[string]fileClientSpec, order *[]string) {
	// Longer suffixes first: "_CLIENT_SECRET" must not be mistaken for
	// a stray match against a shorter suffix sharing a substring.
	suffixes := []string{"_CLIENT_SECRET", "_CLIENT_ID", "_REDIRECT_URI", "_SCOPES"}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envPrefix)
		if rest == "SERVER_URL" || rest == "REALM" {
			continue
		}

		var matchedSuffix, nameUpper string
		for _, suffix := range suffixes {
			if strings.HasSuffix(rest, suffix) {
				matchedSuffix = suffix
				nameUpper = strings.TrimSuffix(rest, suffix)
				break
			}
		}
		if matchedSuffix == "" || nameUpper == "" {
			continue
		}

		name := strings.ToLower(nameUpper)
		spec, exists := specsByName[name]
		if !exists {
			spec = fileClientSpec{Name: name}
			*order = append(*order, name)
		}

		switch matchedSuffix {
		case "_CLIENT_ID":
			spec.ClientID = value
		case "_CLIENT_SECRET":
			spec.ClientSecret = value
		case "_REDIRECT_URI":
			spec.RedirectURI = value
		case "_SCOPES":
			spec.Scopes = splitAndTrim(value)
		}
		specsByName[name] = spec
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg multiclient.Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("idpconfig: server_url is required (set %sSERVER_URL or clients.yaml)", envPrefix)
	}
	if cfg.Realm == "" {
		return fmt.Errorf("idpconfig: realm is required (set %sREALM or clients.yaml)", envPrefix)
	}
	if len(cfg.Clients) == 0 {
		return fmt.Errorf("idpconfig: at least one client must be configured")
	}
	for _, c := range cfg.Clients {
		if c.ClientID == "" {
			return fmt.Errorf("idpconfig: client %q is missing a client_id", c.Name)
		}
	}
	return nil
}
