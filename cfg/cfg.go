/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cfg defines the configuration file format and defaults.
package cfg

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents a configuration file.
type Config struct {
	Domain string `toml:"domain"`

	DatabasePath    string `toml:"database_path"`
	DatabaseOptions string `toml:"database_options"`
	RedisAddr       string `toml:"redis_addr"`
	BlockListPath   string `toml:"blocklist_path"`

	// WebFingerUseHTTP makes discovery and fetching use plain HTTP, for test environments only.
	WebFingerUseHTTP bool `toml:"webfinger_use_http"`

	MaxResponseBodySize int64         `toml:"max_response_body_size"`
	MaxRedirects        int           `toml:"max_redirects"`
	FetchTimeout        time.Duration `toml:"fetch_timeout"`
	ContextFetchTimeout time.Duration `toml:"context_fetch_timeout"`

	ResolverCacheTTL time.Duration `toml:"resolver_cache_ttl"`

	FollowersCacheTTL time.Duration `toml:"followers_cache_ttl"`

	DeliveryBatchSize     int           `toml:"delivery_batch_size"`
	DeliveryRetryInterval time.Duration `toml:"delivery_retry_interval"`
	MaxDeliveryAttempts   int           `toml:"max_delivery_attempts"`
	DeliveryTimeout       time.Duration `toml:"delivery_timeout"`
	OutboxPollingInterval time.Duration `toml:"outbox_polling_interval"`

	DisableIntegrityProofs bool `toml:"disable_integrity_proofs"`

	DeliveryTTL         time.Duration `toml:"delivery_ttl"`
	FollowAcceptTimeout time.Duration `toml:"follow_accept_timeout"`
	ActorTTL            time.Duration `toml:"actor_ttl"`
	GCInterval          time.Duration `toml:"gc_interval"`
}

// Load reads a TOML configuration file and fills missing settings with defaults.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	c.FillDefaults()
	return &c, nil
}

// FillDefaults replaces missing or invalid settings with defaults.
func (c *Config) FillDefaults() {
	if c.Domain == "" {
		c.Domain = "localhost.localdomain"
	}

	if c.DatabasePath == "" {
		c.DatabasePath = "db.sqlite3"
	}

	if c.DatabaseOptions == "" {
		c.DatabaseOptions = "_journal_mode=WAL&_synchronous=1&_busy_timeout=5000"
	}

	if c.MaxResponseBodySize <= 0 {
		c.MaxResponseBodySize = 1024 * 1024
	}

	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}

	if c.FetchTimeout <= 0 {
		c.FetchTimeout = time.Second * 15
	}

	if c.ContextFetchTimeout <= 0 {
		c.ContextFetchTimeout = time.Second * 5
	}

	if c.ResolverCacheTTL <= 0 {
		c.ResolverCacheTTL = time.Hour * 24
	}

	if c.FollowersCacheTTL <= 0 {
		c.FollowersCacheTTL = time.Minute * 5
	}

	if c.DeliveryBatchSize <= 0 {
		c.DeliveryBatchSize = 16
	}

	if c.DeliveryRetryInterval <= 0 {
		c.DeliveryRetryInterval = time.Hour / 2
	}

	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 5
	}

	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = time.Minute * 5
	}

	if c.OutboxPollingInterval <= 0 {
		c.OutboxPollingInterval = time.Second * 5
	}

	if c.DeliveryTTL <= 0 {
		c.DeliveryTTL = time.Hour * 24 * 7
	}

	if c.FollowAcceptTimeout <= 0 {
		c.FollowAcceptTimeout = time.Hour * 24 * 2
	}

	if c.ActorTTL <= 0 {
		c.ActorTTL = time.Hour * 24 * 30
	}

	if c.GCInterval <= 0 {
		c.GCInterval = time.Hour * 12
	}
}

// Scheme returns the URL scheme used to reach remote servers.
func (c *Config) Scheme() string {
	if c.WebFingerUseHTTP {
		return "http"
	}
	return "https"
}
