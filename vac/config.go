package vac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAPIURL is used when neither the config file nor the
// environment names an endpoint.
const DefaultAPIURL = "https://api.multyvac.com"

// Config holds the client credentials and endpoint.
//
// On disk the layout is <dir>/multyvac.json naming the default key and
// endpoint, plus one credential file per key under a directory named
// after the API domain, so keys for different endpoints never collide:
//
//	~/.multyvac/multyvac.json
//	~/.multyvac/api.multyvac.com/<api_key>.json
type Config struct {
	APIKey       string
	APISecretKey string
	APIURL       string

	dir string
}

type configFile struct {
	DefaultAPIKey string `json:"default_api_key"`
	APIURL        string `json:"api_url"`
}

type credentialFile struct {
	APISecretKey string `json:"api_secret_key"`
}

// DefaultConfigDir returns ~/.multyvac.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".multyvac"), nil
}

// LoadConfig reads the default configuration directory and applies the
// MULTYVAC_API_KEY, MULTYVAC_API_SECRET_KEY and MULTYVAC_API_URL
// overrides. A missing directory is not an error; the zero config with
// the default endpoint is returned and Auth fails until a key is set.
func LoadConfig() (*Config, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadConfigDir(dir)
}

// LoadConfigDir is LoadConfig rooted at an explicit directory.
func LoadConfigDir(dir string) (*Config, error) {
	c := &Config{APIURL: DefaultAPIURL, dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, "multyvac.json"))
	switch {
	case err == nil:
		var f configFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("reading multyvac.json: %v", err)}
		}
		if f.APIURL != "" {
			c.APIURL = f.APIURL
		}
		c.APIKey = f.DefaultAPIKey
		if c.APIKey != "" {
			if err := c.loadCredential(); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	// The environment only takes over when it names a key; a stray
	// secret or url without one keeps the on-disk credentials intact.
	if key := os.Getenv("MULTYVAC_API_KEY"); key != "" {
		c.APIKey = key
		c.APISecretKey = os.Getenv("MULTYVAC_API_SECRET_KEY")
		if u := os.Getenv("MULTYVAC_API_URL"); u != "" {
			c.APIURL = u
		}
	}

	return c, nil
}

func (c *Config) loadCredential() error {
	path := filepath.Join(c.dir, c.Domain(), c.APIKey+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Message: fmt.Sprintf("could not find credentials for api key %s on disk", c.APIKey)}
	}
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return &ConfigError{Message: fmt.Sprintf("reading credentials for api key %s: %v", c.APIKey, err)}
	}
	c.APISecretKey = f.APISecretKey
	return nil
}

// Domain is the host part of the endpoint, used to namespace the
// credential files.
func (c *Config) Domain() string {
	u := c.APIURL
	if i := strings.Index(u, "//"); i >= 0 {
		u = u[i+2:]
	}
	return strings.TrimRight(u, "/")
}

// Dir returns the configuration directory.
func (c *Config) Dir() string {
	return c.dir
}

// Auth returns the credential pair the client authenticates with.
func (c *Config) Auth() (key, secret string, err error) {
	if c.APIKey == "" {
		return "", "", &ConfigError{Message: "api key is not set"}
	}
	return c.APIKey, c.APISecretKey, nil
}

// SetKey replaces the active credentials. An empty apiURL keeps the
// current endpoint.
func (c *Config) SetKey(apiKey, apiSecretKey, apiURL string) {
	c.APIKey = apiKey
	c.APISecretKey = apiSecretKey
	if apiURL != "" {
		c.APIURL = apiURL
	}
}

// Save writes multyvac.json and the credential file for the active key.
// The credential file is readable only by the owner.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(configFile{DefaultAPIKey: c.APIKey, APIURL: c.APIURL}, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, "multyvac.json"), data, 0o644); err != nil {
		return err
	}
	if c.APIKey == "" {
		return nil
	}

	credDir := filepath.Join(c.dir, c.Domain())
	if err := os.MkdirAll(credDir, 0o755); err != nil {
		return err
	}
	cred, err := json.MarshalIndent(credentialFile{APISecretKey: c.APISecretKey}, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(credDir, c.APIKey+".json"), cred, 0o600)
}

// OnMultyvac reports whether the current process is running inside a
// job. Workers set ON_MULTYVAC for every command they launch.
func OnMultyvac() bool {
	return os.Getenv("ON_MULTYVAC") == "true"
}
