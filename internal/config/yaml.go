package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "SANDCASTLE_CONFIG_FILE"
	defaultConfigFileName   = "sandcastle.yaml"
	alternateConfigFileName = "sandcastle.yml"
)

type fileConfig struct {
	HTTPAddr        string          `yaml:"http_addr"`
	DBDriver        string          `yaml:"db_driver"`
	DBDSN           string          `yaml:"db_dsn"`
	Agent           fileAgentConfig `yaml:"agent"`
	BufferCap       int             `yaml:"buffer_cap"`
	QueueCap        int             `yaml:"queue_cap"`
	ApprovalTimeout string          `yaml:"approval_timeout"`
	WebhookURLs     []string        `yaml:"webhook_urls"`
}

type fileAgentConfig struct {
	Binary         string `yaml:"binary"`
	WorkDir        string `yaml:"workdir"`
	PermissionMode string `yaml:"permission_mode"`
	Model          string `yaml:"model"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvConfigFile)); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", explicit, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", explicit)
		}
		return explicit, true, nil
	}

	for _, candidate := range []string{defaultConfigFileName, alternateConfigFileName} {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}
