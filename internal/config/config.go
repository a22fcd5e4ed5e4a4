package config

import (
	"os"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage    Storage
	Users      map[string]string
	TLS        *TLS
	Host       string
	Address    string
	LogLevel   string
	AdminToken string
	NoLogin    bool
}

// Storage holds the gocloud.dev connection URLs. Blob is a blob bucket
// URL (s3://, gs://, file://, mem://); the catalog collections are
// docstore URLs, one per collection since key fields differ.
type Storage struct {
	Blob    string
	Catalog Catalog
}

type Catalog struct {
	Packages     string
	Versions     string
	Binaries     string
	Dependencies string
	Topics       string
}

type TLS struct {
	CertFile string // Path to certificate file
	KeyFile  string // Path to key file
	CertPEM  string // Raw certificate PEM (supports ${ENV_VAR} substitution)
	KeyPEM   string // Raw key PEM (supports ${ENV_VAR} substitution)
}

func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	tkn, err := envsubst.EvalEnv(c.AdminToken)
	if err != nil {
		return nil, err
	}
	c.AdminToken = tkn
	for k, v := range c.Users {
		v, err := envsubst.EvalEnv(v)
		if err != nil {
			return nil, err
		}
		c.Users[k] = v
	}
	// Storage URLs can carry credentials in query parameters.
	c.Storage.Blob, err = envsubst.EvalEnv(c.Storage.Blob)
	if err != nil {
		return nil, err
	}
	for _, u := range []*string{
		&c.Storage.Catalog.Packages,
		&c.Storage.Catalog.Versions,
		&c.Storage.Catalog.Binaries,
		&c.Storage.Catalog.Dependencies,
		&c.Storage.Catalog.Topics,
	} {
		*u, err = envsubst.EvalEnv(*u)
		if err != nil {
			return nil, err
		}
	}
	// TLS PEM env substitution
	if c.TLS != nil {
		if c.TLS.CertPEM != "" {
			c.TLS.CertPEM, err = envsubst.EvalEnv(c.TLS.CertPEM)
			if err != nil {
				return nil, err
			}
		}
		if c.TLS.KeyPEM != "" {
			c.TLS.KeyPEM, err = envsubst.EvalEnv(c.TLS.KeyPEM)
			if err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func FromFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}
