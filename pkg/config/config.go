// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Environment always wins, so containerized
// deployments need no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration shared by the api and ingest binaries.
type Config struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`

	NATSURL string `yaml:"nats_url"`

	Neo4jURL     string `yaml:"neo4j_url"`
	Neo4jUser    string `yaml:"neo4j_user"`
	Neo4jPass    string `yaml:"neo4j_pass"`
	MirrorGraph  bool   `yaml:"mirror_graph"`
	DatabaseURL  string `yaml:"database_url"`
	ArchiveBatch bool   `yaml:"archive_batches"`

	ResolverThreshold float64 `yaml:"resolver_threshold"`
	ResolverTieMargin float64 `yaml:"resolver_tie_margin"`
	TraversalMaxDepth int     `yaml:"traversal_max_depth"`

	MirrorRate  float64 `yaml:"mirror_rate"`
	MirrorBurst int     `yaml:"mirror_burst"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Port:              "8080",
		CORSOrigin:        "*",
		NATSURL:           "nats://localhost:4222",
		Neo4jURL:          "neo4j://localhost:7687",
		Neo4jUser:         "neo4j",
		Neo4jPass:         "password",
		ResolverThreshold: 0.82,
		ResolverTieMargin: 0.05,
		TraversalMaxDepth: 10,
		MirrorRate:        50,
		MirrorBurst:       100,
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent) and applies environment overrides on top of defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.CORSOrigin = envOr("CORS_ORIGIN", c.CORSOrigin)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)
	c.Neo4jURL = envOr("NEO4J_URL", c.Neo4jURL)
	c.Neo4jUser = envOr("NEO4J_USER", c.Neo4jUser)
	c.Neo4jPass = envOr("NEO4J_PASS", c.Neo4jPass)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	if v := os.Getenv("MIRROR_GRAPH"); v != "" {
		c.MirrorGraph, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("ARCHIVE_BATCHES"); v != "" {
		c.ArchiveBatch, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("RESOLVER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ResolverThreshold = f
		}
	}
	if v := os.Getenv("RESOLVER_TIE_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ResolverTieMargin = f
		}
	}
	if v := os.Getenv("TRAVERSAL_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TraversalMaxDepth = n
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
