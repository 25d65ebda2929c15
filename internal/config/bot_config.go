package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BotConfig struct {
	Token                string        `mapstructure:"token" validate:"required"`
	MaxRequestsPerSecond float32       `mapstructure:"max_requests_per_second" validate:"gte=0"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	PollLimit            int           `mapstructure:"poll_limit" validate:"gte=1,lte=100"`
	PollWait             time.Duration `mapstructure:"poll_wait"`
	MaxPollErrors        int           `mapstructure:"max_poll_errors" validate:"gte=0"`
	MessageLimit         int           `mapstructure:"message_limit" validate:"gte=1,lte=4096"`
	ChatActionInterval   time.Duration `mapstructure:"chat_action_interval"`
	TypingDelay          time.Duration `mapstructure:"typing_delay"`
	Journals             bool          `mapstructure:"journals"`
}

func (config BotConfig) validate() error {
	if config.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}
	if config.PollWait < 0 || config.TypingDelay < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if config.ChatActionInterval <= 0 {
		return fmt.Errorf("chat_action_interval must be positive")
	}
	return nil
}

func (config BotConfig) bindEnvironmentVariables(v *viper.Viper) error {
	return bindAll(v, map[string]string{
		"bot.token":                   "TOKEN",
		"bot.max_requests_per_second": "MAX_REQUESTS_PER_SECOND",
		"bot.poll_timeout":            "POLL_TIMEOUT",
		"bot.max_poll_errors":         "MAX_POLL_ERRORS",
		"bot.message_limit":           "MESSAGE_LIMIT",
	})
}
