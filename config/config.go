package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	PaczkoBox PaczkoBoxConfig `yaml:"paczkobox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	SnapshotUpdatedTopicName string `yaml:"snapshot_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PaczkoBoxConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Account. The phone number identifies the InPost account; the SMS code
	// arrives out of band through the worker's auth endpoints.
	PhoneNumber string `yaml:"phone_number"`
	Language    string `yaml:"language"` // "pl" or "en"

	// Carrier endpoints, overridable for tests and emulators.
	OAuthBaseURL     string `yaml:"oauth_base_url"`
	APIBaseURL       string `yaml:"api_base_url"`
	ParcelLockersURL string `yaml:"parcel_lockers_url"`

	UpdateIntervalSeconds  int `yaml:"update_interval_seconds"`
	HTTPTimeoutSeconds     int `yaml:"http_timeout_seconds"`
	DirectoryTTLSeconds    int `yaml:"directory_ttl_seconds"`
	TokenRefreshMarginSecs int `yaml:"token_refresh_margin_seconds"`

	ShowOnlyOwnParcels     bool     `yaml:"show_only_own_parcels"`
	IgnoredEnRouteStatuses []string `yaml:"ignored_en_route_statuses"`
	TrackedLockers         []string `yaml:"tracked_lockers"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
