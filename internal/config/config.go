// Package config resolves hub configuration from defaults, an optional
// YAML file, and environment overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultDBDriver        = "sqlite"
	defaultDBDSN           = "sandcastle.db"
	defaultAgentBinary     = "claude"
	defaultPermissionMode  = "acceptEdits"
	defaultBufferCap       = 1000
	defaultQueueCap        = 64
	defaultApprovalTimeout = 5 * time.Minute
)

type Config struct {
	HTTPAddr            string
	DBDriver            string
	DBDSN               string
	AgentBinary         string
	AgentWorkDir        string
	AgentPermissionMode string
	DefaultModel        string
	BufferCap           int
	QueueCap            int
	ApprovalTimeout     time.Duration
	WebhookURLs         []string
}

// Load builds the effective configuration: defaults, then the config file
// if one resolves, then environment variables on top.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:            defaultHTTPAddr,
		DBDriver:            defaultDBDriver,
		DBDSN:               defaultDBDSN,
		AgentBinary:         defaultAgentBinary,
		AgentPermissionMode: defaultPermissionMode,
		BufferCap:           defaultBufferCap,
		QueueCap:            defaultQueueCap,
		ApprovalTimeout:     defaultApprovalTimeout,
	}

	file, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.applyFile(file)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(file fileConfig) {
	setString(&c.HTTPAddr, file.HTTPAddr)
	setString(&c.DBDriver, file.DBDriver)
	setString(&c.DBDSN, file.DBDSN)
	setString(&c.AgentBinary, file.Agent.Binary)
	setString(&c.AgentWorkDir, file.Agent.WorkDir)
	setString(&c.AgentPermissionMode, file.Agent.PermissionMode)
	setString(&c.DefaultModel, file.Agent.Model)
	if file.BufferCap > 0 {
		c.BufferCap = file.BufferCap
	}
	if file.QueueCap > 0 {
		c.QueueCap = file.QueueCap
	}
	if raw := strings.TrimSpace(file.ApprovalTimeout); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			c.ApprovalTimeout = parsed
		}
	}
	for _, url := range file.WebhookURLs {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			c.WebhookURLs = append(c.WebhookURLs, trimmed)
		}
	}
}

func (c *Config) applyEnv() {
	setString(&c.HTTPAddr, os.Getenv("SANDCASTLE_HTTP_ADDR"))
	setString(&c.DBDriver, os.Getenv("SANDCASTLE_DB_DRIVER"))
	setString(&c.DBDSN, os.Getenv("SANDCASTLE_DB_DSN"))
	setString(&c.AgentBinary, os.Getenv("SANDCASTLE_AGENT_BINARY"))
	setString(&c.AgentWorkDir, os.Getenv("SANDCASTLE_AGENT_WORKDIR"))
	setString(&c.AgentPermissionMode, os.Getenv("SANDCASTLE_AGENT_PERMISSION_MODE"))
	setString(&c.DefaultModel, os.Getenv("SANDCASTLE_DEFAULT_MODEL"))

	if raw := strings.TrimSpace(os.Getenv("SANDCASTLE_BUFFER_CAP")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			c.BufferCap = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SANDCASTLE_QUEUE_CAP")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			c.QueueCap = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SANDCASTLE_APPROVAL_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			c.ApprovalTimeout = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SANDCASTLE_WEBHOOK_URLS")); raw != "" {
		urls := make([]string, 0)
		for _, url := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(url); trimmed != "" {
				urls = append(urls, trimmed)
			}
		}
		c.WebhookURLs = urls
	}

	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("SANDCASTLE_HTTP_ADDR must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("SANDCASTLE_DB_DRIVER must be sqlite or postgres")
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("SANDCASTLE_DB_DSN must not be empty")
	}
	if strings.TrimSpace(c.AgentBinary) == "" {
		return fmt.Errorf("SANDCASTLE_AGENT_BINARY must not be empty")
	}
	if c.BufferCap <= 0 {
		return fmt.Errorf("SANDCASTLE_BUFFER_CAP must be > 0")
	}
	if c.QueueCap <= 0 {
		return fmt.Errorf("SANDCASTLE_QUEUE_CAP must be > 0")
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("SANDCASTLE_APPROVAL_TIMEOUT must be > 0")
	}
	return nil
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}
