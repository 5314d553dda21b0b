package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Handler struct {
	p string

	mu sync.Mutex
}

func NewHandler(path string) *Handler {
	return &Handler{p: path}
}

func (c *Handler) Path() string {
	return c.p
}

// Get reads the yaml file, writing a default one first when it does not exist.
// Env overrides are applied on top of the file values.
func (c *Handler) Get() (*Root, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.p == "" {
		r := AddDefaults(&Root{})
		return r, ApplyEnv(r, os.LookupEnv)
	}

	if _, err := os.Stat(c.p); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", c.p).Msg("configuration file does not exist, creating from defaults")
		if err := c.createFromDefaults(); err != nil {
			return nil, err
		}
	}

	b, err := os.ReadFile(c.p)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	r, err := Parse(b)
	if err != nil {
		return nil, err
	}

	return r, ApplyEnv(r, os.LookupEnv)
}

// Parse decodes yaml bytes and fills defaults.
func Parse(b []byte) (*Root, error) {
	conf := &Root{}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("error parsing configuration file: %w", err)
	}

	return AddDefaults(conf), nil
}

func (c *Handler) Set(r *Root) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.write(r)
}

func (c *Handler) createFromDefaults() error {
	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return fmt.Errorf("error creating configuration folder: %w", err)
	}

	return c.write(AddDefaults(&Root{}))
}

func (c *Handler) write(r *Root) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}

	if err := os.WriteFile(c.p, b, 0644); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}

	return nil
}
