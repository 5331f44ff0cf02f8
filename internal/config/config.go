package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SMPP_"

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	envFiles   []string
	config     *smpp.Config
}

// configJSON represents the JSON structure for configuration
type configJSON struct {
	Server  serverConfigJSON   `json:"server"`
	Client  clientConfigJSON   `json:"client"`
	Logging smpp.LoggingConfig `json:"logging"`
	Metrics smpp.MetricsConfig `json:"metrics"`
}

type serverConfigJSON struct {
	Host              string  `json:"host"`
	Port              int     `json:"port"`
	SystemID          string  `json:"system_id"`
	ResponseTimeout   string  `json:"response_timeout"`
	WriteTimeout      string  `json:"write_timeout"`
	KeepAliveInterval string  `json:"keep_alive_interval"`
	UnbindLinger      string  `json:"unbind_linger"`
	DeliveryEncoding  byte    `json:"delivery_encoding"`
	ProxyProtocol     bool    `json:"proxy_protocol"`
	SubmitRateLimit   float64 `json:"submit_rate_limit"`
	SubmitBurst       int     `json:"submit_burst"`
	ReassembleParts   bool    `json:"reassemble_parts"`
	ReassemblyTTL     string  `json:"reassembly_ttl"`
	WindowSize        int     `json:"window_size"`
}

type clientConfigJSON struct {
	Host            string              `json:"host"`
	Port            int                 `json:"port"`
	SystemID        string              `json:"system_id"`
	Password        string              `json:"password"`
	SystemType      string              `json:"system_type"`
	BindType        string              `json:"bind_type"`
	AddressRange    string              `json:"address_range"`
	AddrTON         byte                `json:"addr_ton"`
	AddrNPI         byte                `json:"addr_npi"`
	SourceTON       byte                `json:"source_ton"`
	SourceNPI       byte                `json:"source_npi"`
	DestTON         byte                `json:"dest_ton"`
	DestNPI         byte                `json:"dest_npi"`
	ConnectTimeout  string              `json:"connect_timeout"`
	ResponseTimeout string              `json:"response_timeout"`
	WriteTimeout    string              `json:"write_timeout"`
	WindowSize      int                 `json:"window_size"`
	ReassembleParts bool                `json:"reassemble_parts"`
	ReassemblyTTL   string              `json:"reassembly_ttl"`
	Messages        messageSettingsJSON `json:"messages"`
}

type messageSettingsJSON struct {
	DeliverDataCoding          byte `json:"deliver_data_coding"`
	ServerDefaultEncoding      byte `json:"server_default_encoding"`
	EnableGSM7BitPacking       bool `json:"enable_gsm7_bit_packing"`
	MaxMessageLength           int  `json:"max_message_length"`
	EnableMessageConcatenation bool `json:"enable_message_concatenation"`
	EnablePayload              bool `json:"enable_payload"`
	EnableSubmitMulti          bool `json:"enable_submit_multi"`
	BigEndianUnicode           bool `json:"big_endian_unicode"`
}

// NewConfigManager creates a configuration manager reading configPath. When
// envFiles is empty, ".env" in the working directory is tried.
func NewConfigManager(configPath string, envFiles ...string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
		envFiles:   envFiles,
	}
}

// LoadConfig loads defaults, then the config file, then .env files and SMPP_*
// environment variables, and validates the result.
func (cm *ConfigManager) LoadConfig() (*smpp.Config, error) {
	config := DefaultConfig()

	if cm.configPath != "" && cm.fileExists(cm.configPath) {
		data, err := os.ReadFile(cm.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		jsonConfig := toJSON(config)
		if err := json.Unmarshal(data, jsonConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		if err := cm.convertJSONConfig(jsonConfig, config); err != nil {
			return nil, fmt.Errorf("failed to convert config: %w", err)
		}
	}

	if err := cm.loadEnvFiles(); err != nil {
		return nil, err
	}
	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	cm.config = config

	if err := cm.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadEnvFiles loads .env files without overriding variables already set
func (cm *ConfigManager) loadEnvFiles() error {
	files := cm.envFiles
	if len(files) == 0 {
		if !cm.fileExists(".env") {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// convertJSONConfig converts JSON config structure to internal config
func (cm *ConfigManager) convertJSONConfig(jsonConfig *configJSON, config *smpp.Config) error {
	if err := cm.convertServerConfig(&jsonConfig.Server, &config.Server); err != nil {
		return fmt.Errorf("failed to convert server config: %w", err)
	}

	if err := cm.convertClientConfig(&jsonConfig.Client, &config.Client); err != nil {
		return fmt.Errorf("failed to convert client config: %w", err)
	}

	config.Logging = jsonConfig.Logging
	config.Metrics = jsonConfig.Metrics

	return nil
}

// convertServerConfig converts server config with duration parsing
func (cm *ConfigManager) convertServerConfig(jsonConfig *serverConfigJSON, config *smpp.ServerConfig) error {
	config.Host = jsonConfig.Host
	config.Port = jsonConfig.Port
	config.SystemID = jsonConfig.SystemID
	config.DeliveryEncoding = jsonConfig.DeliveryEncoding
	config.ProxyProtocol = jsonConfig.ProxyProtocol
	config.SubmitRateLimit = jsonConfig.SubmitRateLimit
	config.SubmitBurst = jsonConfig.SubmitBurst
	config.ReassembleParts = jsonConfig.ReassembleParts
	config.WindowSize = jsonConfig.WindowSize

	return parseDurations(map[string]durationField{
		"response_timeout":    {jsonConfig.ResponseTimeout, &config.ResponseTimeout},
		"write_timeout":       {jsonConfig.WriteTimeout, &config.WriteTimeout},
		"keep_alive_interval": {jsonConfig.KeepAliveInterval, &config.KeepAliveInterval},
		"unbind_linger":       {jsonConfig.UnbindLinger, &config.UnbindLinger},
		"reassembly_ttl":      {jsonConfig.ReassemblyTTL, &config.ReassemblyTTL},
	})
}

// convertClientConfig converts client config with duration parsing
func (cm *ConfigManager) convertClientConfig(jsonConfig *clientConfigJSON, config *smpp.ClientConfig) error {
	config.Host = jsonConfig.Host
	config.Port = jsonConfig.Port
	config.SystemID = jsonConfig.SystemID
	config.Password = jsonConfig.Password
	config.SystemType = jsonConfig.SystemType
	config.BindType = jsonConfig.BindType
	config.AddressRange = jsonConfig.AddressRange
	config.AddrTON = jsonConfig.AddrTON
	config.AddrNPI = jsonConfig.AddrNPI
	config.SourceTON = jsonConfig.SourceTON
	config.SourceNPI = jsonConfig.SourceNPI
	config.DestTON = jsonConfig.DestTON
	config.DestNPI = jsonConfig.DestNPI
	config.WindowSize = jsonConfig.WindowSize
	config.ReassembleParts = jsonConfig.ReassembleParts
	config.Messages = smpp.MessageSettings(jsonConfig.Messages)

	return parseDurations(map[string]durationField{
		"connect_timeout":  {jsonConfig.ConnectTimeout, &config.ConnectTimeout},
		"response_timeout": {jsonConfig.ResponseTimeout, &config.ResponseTimeout},
		"write_timeout":    {jsonConfig.WriteTimeout, &config.WriteTimeout},
		"reassembly_ttl":   {jsonConfig.ReassemblyTTL, &config.ReassemblyTTL},
	})
}

type durationField struct {
	raw string
	dst *time.Duration
}

func parseDurations(fields map[string]durationField) error {
	for name, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*f.dst = d
	}
	return nil
}

// toJSON renders config in file form so a partial file only overrides what it names
func toJSON(config *smpp.Config) *configJSON {
	s, c := config.Server, config.Client
	return &configJSON{
		Server: serverConfigJSON{
			Host:              s.Host,
			Port:              s.Port,
			SystemID:          s.SystemID,
			ResponseTimeout:   s.ResponseTimeout.String(),
			WriteTimeout:      s.WriteTimeout.String(),
			KeepAliveInterval: s.KeepAliveInterval.String(),
			UnbindLinger:      s.UnbindLinger.String(),
			DeliveryEncoding:  s.DeliveryEncoding,
			ProxyProtocol:     s.ProxyProtocol,
			SubmitRateLimit:   s.SubmitRateLimit,
			SubmitBurst:       s.SubmitBurst,
			ReassembleParts:   s.ReassembleParts,
			ReassemblyTTL:     s.ReassemblyTTL.String(),
			WindowSize:        s.WindowSize,
		},
		Client: clientConfigJSON{
			Host:            c.Host,
			Port:            c.Port,
			SystemID:        c.SystemID,
			Password:        c.Password,
			SystemType:      c.SystemType,
			BindType:        c.BindType,
			AddressRange:    c.AddressRange,
			AddrTON:         c.AddrTON,
			AddrNPI:         c.AddrNPI,
			SourceTON:       c.SourceTON,
			SourceNPI:       c.SourceNPI,
			DestTON:         c.DestTON,
			DestNPI:         c.DestNPI,
			ConnectTimeout:  c.ConnectTimeout.String(),
			ResponseTimeout: c.ResponseTimeout.String(),
			WriteTimeout:    c.WriteTimeout.String(),
			WindowSize:      c.WindowSize,
			ReassembleParts: c.ReassembleParts,
			ReassemblyTTL:   c.ReassemblyTTL.String(),
			Messages:        messageSettingsJSON(c.Messages),
		},
		Logging: config.Logging,
		Metrics: config.Metrics,
	}
}

// applyEnv overrides config with SMPP_* variables
func applyEnv(config *smpp.Config) error {
	strs := map[string]*string{
		"SERVER_HOST":          &config.Server.Host,
		"SERVER_SYSTEM_ID":     &config.Server.SystemID,
		"CLIENT_HOST":          &config.Client.Host,
		"CLIENT_SYSTEM_ID":     &config.Client.SystemID,
		"CLIENT_PASSWORD":      &config.Client.Password,
		"CLIENT_SYSTEM_TYPE":   &config.Client.SystemType,
		"CLIENT_BIND_TYPE":     &config.Client.BindType,
		"CLIENT_ADDRESS_RANGE": &config.Client.AddressRange,
		"LOG_LEVEL":            &config.Logging.Level,
		"LOG_FORMAT":           &config.Logging.Format,
		"LOG_OUTPUT":           &config.Logging.Output,
		"METRICS_PATH":         &config.Metrics.Path,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":  &config.Server.Port,
		"CLIENT_PORT":  &config.Client.Port,
		"METRICS_PORT": &config.Metrics.Port,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SERVER_PROXY_PROTOCOL": &config.Server.ProxyProtocol,
		"METRICS_ENABLED":       &config.Metrics.Enabled,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"SERVER_RESPONSE_TIMEOUT":    &config.Server.ResponseTimeout,
		"SERVER_KEEP_ALIVE_INTERVAL": &config.Server.KeepAliveInterval,
		"CLIENT_RESPONSE_TIMEOUT":    &config.Client.ResponseTimeout,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}
	return nil
}

// SaveConfig saves configuration to file
func (cm *ConfigManager) SaveConfig() error {
	if cm.config == nil {
		return fmt.Errorf("no configuration to save")
	}

	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	return writeConfig(cm.configPath, cm.config)
}

func writeConfig(path string, config *smpp.Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(toJSON(config), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Reload reloads configuration from source
func (cm *ConfigManager) Reload() error {
	_, err := cm.LoadConfig()
	return err
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *smpp.Config {
	return cm.config
}

// Validate validates configuration
func (cm *ConfigManager) Validate() error {
	if cm.config == nil {
		return fmt.Errorf("configuration is nil")
	}
	return Validate(cm.config)
}

// Validate checks every section of config
func Validate(config *smpp.Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := validateClientConfig(&config.Client); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := validateMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func validateServerConfig(server *smpp.ServerConfig) error {
	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if server.Port < 0 || server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", server.Port)
	}

	if server.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive: %v", server.ResponseTimeout)
	}

	if server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %v", server.WriteTimeout)
	}

	if server.KeepAliveInterval <= 0 {
		return fmt.Errorf("keep-alive interval must be positive: %v", server.KeepAliveInterval)
	}

	if server.WindowSize < 0 {
		return fmt.Errorf("window size cannot be negative: %d", server.WindowSize)
	}

	if server.SubmitRateLimit < 0 {
		return fmt.Errorf("submit rate limit cannot be negative: %v", server.SubmitRateLimit)
	}

	if len(server.SystemID) >= smpp.MaxSystemIDLength {
		return fmt.Errorf("system id longer than %d characters: %q", smpp.MaxSystemIDLength-1, server.SystemID)
	}

	return nil
}

func validateClientConfig(client *smpp.ClientConfig) error {
	if client.Host == "" {
		return fmt.Errorf("client host cannot be empty")
	}

	if client.Port <= 0 || client.Port > 65535 {
		return fmt.Errorf("invalid client port: %d", client.Port)
	}

	if _, err := smpp.ParseBindMode(client.BindType); err != nil {
		return fmt.Errorf("invalid bind type: %s", client.BindType)
	}

	if client.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive: %v", client.ConnectTimeout)
	}

	if client.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive: %v", client.ResponseTimeout)
	}

	if client.WindowSize < 0 {
		return fmt.Errorf("window size cannot be negative: %d", client.WindowSize)
	}

	if client.Messages.MaxMessageLength < 0 {
		return fmt.Errorf("max message length cannot be negative: %d", client.Messages.MaxMessageLength)
	}

	return nil
}

func validateLoggingConfig(logging *smpp.LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	if !validLevels[logging.Level] {
		return fmt.Errorf("invalid log level: %s", logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[logging.Format] {
		return fmt.Errorf("invalid log format: %s", logging.Format)
	}

	if logging.Output == "" {
		return errors.New("log output cannot be empty")
	}

	return nil
}

func validateMetricsConfig(metrics *smpp.MetricsConfig) error {
	if metrics.Enabled {
		if metrics.Port <= 0 || metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", metrics.Port)
		}
		if !strings.HasPrefix(metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %q", metrics.Path)
		}
	}

	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *smpp.Config {
	client := smpp.DefaultClientConfig()
	client.SystemType = "SMPP"
	return &smpp.Config{
		Server: smpp.DefaultServerConfig(),
		Client: client,
		Logging: smpp.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: smpp.MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "smpp",
		},
	}
}

// fileExists checks if a file exists
func (cm *ConfigManager) fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// CreateDefaultConfigFile creates a default configuration file
func CreateDefaultConfigFile(path string) error {
	return writeConfig(path, DefaultConfig())
}
