package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type ServerConfig struct {
	SocketURL   string `mapstructure:"socket_url"`
	RestBaseURL string `mapstructure:"rest_base_url"`
}

type SessionConfig struct {
	Token             string        `mapstructure:"token"`
	BidderID          string        `mapstructure:"bidder_id"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

type BiddingConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	OutbidDisplay  time.Duration `mapstructure:"outbid_display"`
}

type SimulatorConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.socket_url", "ws://localhost:8090/ws")
	viper.SetDefault("server.rest_base_url", "http://localhost:8090/api/v1")
	viper.SetDefault("session.token", "")
	viper.SetDefault("session.bidder_id", "")
	viper.SetDefault("session.reconnect_attempts", 5)
	viper.SetDefault("session.reconnect_min_delay", time.Second)
	viper.SetDefault("session.reconnect_max_delay", 5*time.Second)
	viper.SetDefault("session.handshake_timeout", 10*time.Second)
	viper.SetDefault("bidding.confirm_timeout", 10*time.Second)
	viper.SetDefault("bidding.outbid_display", 5*time.Second)
	viper.SetDefault("simulator.port", 8090)

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-live/")

	// Environment variable support
	viper.AutomaticEnv()

	viper.BindEnv("server.socket_url", "AUCTION_SOCKET_URL")
	viper.BindEnv("server.rest_base_url", "AUCTION_REST_BASE_URL")
	viper.BindEnv("session.token", "AUCTION_TOKEN")
	viper.BindEnv("session.bidder_id", "AUCTION_BIDDER_ID")
	viper.BindEnv("session.reconnect_attempts", "AUCTION_RECONNECT_ATTEMPTS")
	viper.BindEnv("simulator.port", "SIMULATOR_PORT")

	// Read configuration file (optional - defaults/env vars apply if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
