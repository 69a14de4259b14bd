/*
Copyright 2024 Adspace Authors.

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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"ADSPACE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ADSPACE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"ADSPACE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ADSPACE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"ADSPACE_REDIS_DNS"`
}

// ProcessorConfig points at the escrow-holding payment processor that executes
// source-linked transfers.
type ProcessorConfig struct {
	ApiUrl     string `json:"api_url" envconfig:"ADSPACE_PROCESSOR_API_URL"`
	ApiKey     string `json:"api_key" envconfig:"ADSPACE_PROCESSOR_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"ADSPACE_PROCESSOR_TIMEOUT_SEC"`
}

// SettlementConfig carries the tunables of the payout settlement engine.
type SettlementConfig struct {
	Currency              string `json:"currency" envconfig:"ADSPACE_SETTLEMENT_CURRENCY"`
	FirstTranchePercent   int    `json:"first_tranche_percent" envconfig:"ADSPACE_SETTLEMENT_FIRST_TRANCHE_PERCENT"`
	ProofGraceDays        int    `json:"proof_grace_days" envconfig:"ADSPACE_SETTLEMENT_PROOF_GRACE_DAYS"`
	ReminderLookaheadDays int    `json:"reminder_lookahead_days" envconfig:"ADSPACE_SETTLEMENT_REMINDER_LOOKAHEAD_DAYS"`
	MaxTransientAttempts  int    `json:"max_transient_attempts" envconfig:"ADSPACE_SETTLEMENT_MAX_TRANSIENT_ATTEMPTS"`
	Workers               int    `json:"workers" envconfig:"ADSPACE_SETTLEMENT_WORKERS"`
	NotifyOwnerOnHold     bool   `json:"notify_owner_on_hold" envconfig:"ADSPACE_SETTLEMENT_NOTIFY_OWNER_ON_HOLD"`
}

type QueueConfig struct {
	SettlementQueue string `json:"settlement_queue" envconfig:"ADSPACE_QUEUE_SETTLEMENT"`
	Schedule        string `json:"schedule" envconfig:"ADSPACE_QUEUE_SCHEDULE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ADSPACE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ADSPACE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ADSPACE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"ADSPACE_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Processor    ProcessorConfig  `json:"processor"`
	Settlement   SettlementConfig `json:"settlement"`
	Queue        QueueConfig      `json:"queue"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("adspace", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called adspace.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Adspace Settlement"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Processor.ApiUrl = strings.TrimSpace(cnf.Processor.ApiUrl)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Processor.TimeoutSec == 0 {
		cnf.Processor.TimeoutSec = 30
	}

	if cnf.Settlement.Currency == "" {
		cnf.Settlement.Currency = "USD"
	}
	if cnf.Settlement.FirstTranchePercent == 0 {
		cnf.Settlement.FirstTranchePercent = 30
	}
	if cnf.Settlement.ProofGraceDays == 0 {
		cnf.Settlement.ProofGraceDays = 5
	}
	if cnf.Settlement.ReminderLookaheadDays == 0 {
		cnf.Settlement.ReminderLookaheadDays = 3
	}
	if cnf.Settlement.MaxTransientAttempts == 0 {
		cnf.Settlement.MaxTransientAttempts = 7
	}
	if cnf.Settlement.Workers == 0 {
		cnf.Settlement.Workers = 4
	}

	if cnf.Queue.SettlementQueue == "" {
		cnf.Queue.SettlementQueue = "settlements:run"
	}
	if cnf.Queue.Schedule == "" {
		// Daily at 02:00, matching the external scheduler interval.
		cnf.Queue.Schedule = "0 2 * * *"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
