package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/burrow/internal/flagx"
	"github.com/dmitrijs2005/burrow/internal/timex"
)

// JsonConfig is the on-disk shape; empty values leave defaults in place.
type JsonConfig struct {
	ServerEndpointAddr string          `json:"server_endpoint_addr"`
	AccessToken        string          `json:"access_token"`
	RequestTimeout     *timex.Duration `json:"request_timeout"`
}

// parseJson panics on an unreadable file or invalid JSON.
func parseJson(cfg *Config) {
	path := flagx.ConfigPath(ConfigEnv)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.AccessToken != "" {
		cfg.AccessToken = jc.AccessToken
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
}
