package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Server    ServerConfig    `mapstructure:"server"`
	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// LLMConfig holds the generative backend configuration
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float32       `mapstructure:"temperature"`
	TopP              float32       `mapstructure:"top_p"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig holds the conversation persistence configuration.
// An empty DBPath keeps history in memory only.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// TelemetryConfig holds the exporter configuration.
// TraceExporter and MetricExporter accept "otlp", "stdout" or "none".
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TraceExporter  string `mapstructure:"trace_exporter"`
	MetricExporter string `mapstructure:"metric_exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

const defaultSystemPrompt = "Hello, I'm Shelli; I (actually) run The Splunk T-Shirt Company. AMA"

// Load loads the configuration from the config.yaml file.
// CONFIG_PATH overrides the default search path.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("llm.model", "gpt-3.5-turbo")
	viper.SetDefault("llm.temperature", 1.0)
	viper.SetDefault("llm.top_p", 1.0)
	viper.SetDefault("llm.inactivity_timeout", 30*time.Second)
	viper.SetDefault("llm.system_prompt", defaultSystemPrompt)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("telemetry.service_name", "splunk-shelli")
	viper.SetDefault("telemetry.trace_exporter", "otlp")
	viper.SetDefault("telemetry.metric_exporter", "otlp")
	viper.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	viper.SetDefault("telemetry.otlp_insecure", true)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the sampling and timeout bounds the backend accepts.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %v out of range [0,2]", c.LLM.Temperature)
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p %v out of range [0,1]", c.LLM.TopP)
	}
	if c.LLM.InactivityTimeout <= 0 {
		return fmt.Errorf("llm.inactivity_timeout must be positive, got %v", c.LLM.InactivityTimeout)
	}
	return nil
}
