package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the TOML shape accepted by --config. Every key maps onto the
// environment variable of the same knob, so a file only ever changes defaults:
// real environment variables and flags still win.
//
//	listen_addr = "0.0.0.0:8081"
//	mode = "prod"
//	allowed_origins = ["https://app.example.com"]
//
//	[auth]
//	mode = "jwt"
//	jwt_secret = "..."
//
//	[signaling]
//	ping_interval = "30s"
//	max_connections = 10000
type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	PublicBaseURL   string   `toml:"public_base_url"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	Mode            string   `toml:"mode"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`

	Log struct {
		Format string `toml:"format"`
		Level  string `toml:"level"`
	} `toml:"log"`

	Auth struct {
		Mode        string `toml:"mode"`
		JWTSecret   string `toml:"jwt_secret"`
		JWTIssuer   string `toml:"jwt_issuer"`
		JWTAudience string `toml:"jwt_audience"`
		JWTLeeway   string `toml:"jwt_leeway"`
	} `toml:"auth"`

	Signaling struct {
		PingInterval         string `toml:"ping_interval"`
		MaxMessageBytes      int64  `toml:"max_message_bytes"`
		MaxMessagesPerSecond int    `toml:"max_messages_per_second"`
		SendQueueBytes       int    `toml:"send_queue_bytes"`
		MaxConnections       int    `toml:"max_connections"`
	} `toml:"signaling"`

	ICE struct {
		ServersJSON    string   `toml:"servers_json"`
		STUNURLs       []string `toml:"stun_urls"`
		TURNURLs       []string `toml:"turn_urls"`
		TURNUsername   string   `toml:"turn_username"`
		TURNCredential string   `toml:"turn_credential"`
	} `toml:"ice"`

	TURNREST struct {
		SharedSecret   string `toml:"shared_secret"`
		TTLSeconds     int64  `toml:"ttl_seconds"`
		UsernamePrefix string `toml:"username_prefix"`
		Realm          string `toml:"realm"`
	} `toml:"turn_rest"`
}

func loadFile(path string) (func(string) (string, bool), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("config file %s: %s", path, strict.String())
		}
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	values := fc.envValues()
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}, nil
}

func (fc fileConfig) envValues() map[string]string {
	m := map[string]string{}
	setString := func(key, v string) {
		if strings.TrimSpace(v) != "" {
			m[key] = v
		}
	}
	setInt := func(key string, v int64) {
		if v != 0 {
			m[key] = strconv.FormatInt(v, 10)
		}
	}

	setString(envVarListenAddr, fc.ListenAddr)
	setString(envVarPublicBaseURL, fc.PublicBaseURL)
	setString(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	setString(envVarMode, fc.Mode)
	setString(envVarShutdownTimeout, fc.ShutdownTimeout)
	setString(envVarLogFormat, fc.Log.Format)
	setString(envVarLogLevel, fc.Log.Level)

	setString(envVarAuthMode, fc.Auth.Mode)
	setString(envVarJWTSecret, fc.Auth.JWTSecret)
	setString(envVarJWTIssuer, fc.Auth.JWTIssuer)
	setString(envVarJWTAudience, fc.Auth.JWTAudience)
	setString(envVarJWTLeeway, fc.Auth.JWTLeeway)

	setString(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	setInt(envVarMaxSignalingMessageBytes, fc.Signaling.MaxMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, int64(fc.Signaling.MaxMessagesPerSecond))
	setInt(envVarSignalingSendQueueBytes, int64(fc.Signaling.SendQueueBytes))
	setInt(envVarMaxConnections, int64(fc.Signaling.MaxConnections))

	setString(envICEServersJSON, fc.ICE.ServersJSON)
	setString(envStunURLs, strings.Join(fc.ICE.STUNURLs, ","))
	setString(envTurnURLs, strings.Join(fc.ICE.TURNURLs, ","))
	setString(envTurnUsername, fc.ICE.TURNUsername)
	setString(envTurnCredential, fc.ICE.TURNCredential)

	setString(envVarTURNRESTSharedSecret, fc.TURNREST.SharedSecret)
	setInt(envVarTURNRESTTTLSeconds, fc.TURNREST.TTLSeconds)
	setString(envVarTURNRESTUsernamePrefix, fc.TURNREST.UsernamePrefix)
	setString(envVarTURNRESTRealm, fc.TURNREST.Realm)
	return m
}

// layeredLookup consults each lookup in order and returns the first non-empty
// value.
func layeredLookup(lookups ...func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if v, ok := lookup(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// configFileFromArgs finds --config before the flag set is built, since the
// file feeds the flag defaults.
func configFileFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
