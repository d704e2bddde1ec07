package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/burrow/internal/flagx"
	"github.com/dmitrijs2005/burrow/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration. Durations use
// timex.Duration so both "5s" and integer nanoseconds parse. Pointers and
// zero values mark fields absent from the file; absent fields keep their
// current value.
type JsonConfig struct {
	HTTPAddress                 string          `json:"http_address"`
	GRPCAddress                 string          `json:"grpc_address"`
	StorageBackend              string          `json:"storage_backend"`
	DataDir                     *string         `json:"data_dir"`
	DatabaseDSN                 string          `json:"database_dsn"`
	SecretKey                   string          `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	HiddenServiceStore          string          `json:"hidden_service_store"`
	S3RootUser                  string          `json:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket"`
	S3Region                    string          `json:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint"`
	ControlAddress              *string         `json:"control_address"`
	ControlPassword             *string         `json:"control_password"`
	HiddenServiceTarget         string          `json:"hidden_service_target"`
	DirectPort                  int             `json:"direct_port"`
	DirectTimeout               *timex.Duration `json:"direct_timeout"`
	RelayTick                   *timex.Duration `json:"relay_tick"`
	RelaySpacing                *timex.Duration `json:"relay_spacing"`
	RelayMaxAttempts            int             `json:"relay_max_attempts"`
	RelayRetention              *timex.Duration `json:"relay_retention"`
	CallbackRetention           *timex.Duration `json:"callback_retention"`
	DedupeSize                  int             `json:"dedupe_size"`
	LogLevel                    string          `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config flag, or from the
// BURROW_CONFIG environment variable. Without either nothing is loaded.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(ConfigEnv)

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddress, c.HTTPAddress)
	setString(&config.GRPCAddress, c.GRPCAddress)
	setString(&config.StorageBackend, c.StorageBackend)
	setStringPtr(&config.DataDir, c.DataDir)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.HiddenServiceStore, c.HiddenServiceStore)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setStringPtr(&config.ControlAddress, c.ControlAddress)
	setStringPtr(&config.ControlPassword, c.ControlPassword)
	setString(&config.HiddenServiceTarget, c.HiddenServiceTarget)
	setInt(&config.DirectPort, c.DirectPort)
	setDuration(&config.DirectTimeout, c.DirectTimeout)
	setDuration(&config.RelayTick, c.RelayTick)
	setDuration(&config.RelaySpacing, c.RelaySpacing)
	setInt(&config.RelayMaxAttempts, c.RelayMaxAttempts)
	setDuration(&config.RelayRetention, c.RelayRetention)
	setDuration(&config.CallbackRetention, c.CallbackRetention)
	setInt(&config.DedupeSize, c.DedupeSize)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setStringPtr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
