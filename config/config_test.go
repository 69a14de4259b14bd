package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: ""},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Settlement.FirstTranchePercent != 30 {
		t.Errorf("Expected default first tranche percent 30, got %d", cnf.Settlement.FirstTranchePercent)
	}
	if cnf.Settlement.ProofGraceDays != 5 {
		t.Errorf("Expected default proof grace days 5, got %d", cnf.Settlement.ProofGraceDays)
	}
	if cnf.Settlement.ReminderLookaheadDays != 3 {
		t.Errorf("Expected default reminder lookahead 3, got %d", cnf.Settlement.ReminderLookaheadDays)
	}
	if cnf.Queue.SettlementQueue != "settlements:run" {
		t.Errorf("Expected default settlement queue name, got %s", cnf.Queue.SettlementQueue)
	}
}

func TestInitConfigFromFile(t *testing.T) {
	cnf := Configuration{
		ProjectName: "Adspace Test",
		Server:      ServerConfig{Port: "6001", Secure: true, SecretKey: "shared-secret"},
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432/adspace"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
		Processor:   ProcessorConfig{ApiUrl: "https://processor.test", ApiKey: "sk_test"},
	}

	data, err := json.Marshal(cnf)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.CreateTemp(t.TempDir(), "adspace-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if err := InitConfig(f.Name()); err != nil {
		t.Fatal(err)
	}

	loaded, err := Fetch()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ProjectName != "Adspace Test" {
		t.Errorf("Expected project name to round-trip, got %s", loaded.ProjectName)
	}
	if loaded.Processor.TimeoutSec != 30 {
		t.Errorf("Expected default processor timeout, got %d", loaded.Processor.TimeoutSec)
	}
}
