/**
 * @description
 * This file handles the configuration management for the dunning-service.
 * It uses the Viper library to load settings from environment variables or
 * a local .env file, providing a centralized way to manage application
 * settings.
 */
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	ClerkJWKSURL          string `mapstructure:"CLERK_JWKS_URL"`
	CronKey               string `mapstructure:"CRON_KEY"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	StageTablePath        string `mapstructure:"STAGE_TABLE_PATH"`
	EvaluationJobSchedule string `mapstructure:"EVALUATION_JOB_SCHEDULE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("EVALUATION_JOB_SCHEDULE", "0 * * * *")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind env vars explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CRON_KEY")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("STAGE_TABLE_PATH")
	_ = viper.BindEnv("EVALUATION_JOB_SCHEDULE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}

	if config.DatabaseURL == "" {
		return config, errors.New("DATABASE_URL is required")
	}
	if config.RabbitMQURL == "" {
		return config, errors.New("RABBITMQ_URL is required")
	}
	if config.CronKey == "" {
		return config, errors.New("CRON_KEY is required")
	}

	return config, nil
}
