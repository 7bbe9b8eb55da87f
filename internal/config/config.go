// Package config implements the boot-time environment load order from
// spec.md §6:
//
//  1. explicit env-file path (RUNTIME_ENV_FILE)
//  2. named env-id -> <src>/env.<id>.json (id validated against [A-Za-z0-9_-]+)
//  3. default <src>/env.json
//
// Process environment variables always override file-loaded values. A
// env.<id>.toml sibling is accepted wherever a .json file would be, using
// BurntSushi/toml, for operators who prefer a hand-editable format. Loaded
// values are layered through viper so later sources win over earlier ones,
// the same "defaults, then file, then env" layering the teacher's admin
// config handler relies on for its settings cascade.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

var envIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Env holds the fully resolved environment configuration.
type Env struct {
	DatabaseURI       string
	AppID             string
	MasterKey         string
	RefreshSecret     string
	AccessSecret      string
	DirectFileAccess  bool
	PreserveFilename  bool
	MaxUploadSizeMB   int
	LiveQueryServer   bool
	TLSCertFile      string
	TLSKeyFile       string
	LogLevel         string
	Port             string
	ServerURI        string
	PublicServerURI  string
	RedisAddr        string
	PluginRoots      []string
	ContentTypes     []string
	IndexFrequency   string
}

// Load implements the three-tier file load order, then lets process env
// override every file-loaded key, then derives Port/ServerURI/PublicServerURI.
//
// Environment load failure is the one fatal error path in the whole system
// (spec.md §7): Load returns an error and the caller is expected to exit.
func Load(src string) (*Env, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")

	if explicit := os.Getenv("RUNTIME_ENV_FILE"); explicit != "" {
		if err := mergeFile(v, explicit); err != nil {
			return nil, fmt.Errorf("config: explicit env file %q: %w", explicit, err)
		}
	} else if id := os.Getenv("RUNTIME_ENV_ID"); id != "" {
		if !envIDPattern.MatchString(id) {
			return nil, fmt.Errorf("config: invalid RUNTIME_ENV_ID %q: must match [A-Za-z0-9_-]+", id)
		}
		if err := mergeNamed(v, src, id); err != nil {
			return nil, err
		}
	} else if err := mergeNamed(v, src, ""); err != nil {
		return nil, err
	}

	// Process env overrides file-loaded values, one key at a time.
	for _, key := range v.AllKeys() {
		envKey := toEnvKey(key)
		if val := os.Getenv(envKey); val != "" {
			v.Set(key, val)
		}
	}
	bindRequired(v)

	env := &Env{
		DatabaseURI:      v.GetString("database_uri"),
		AppID:            v.GetString("app_id"),
		MasterKey:        v.GetString("master_key"),
		RefreshSecret:    v.GetString("refresh_secret"),
		AccessSecret:     v.GetString("access_secret"),
		DirectFileAccess: v.GetBool("direct_file_access"),
		PreserveFilename: v.GetBool("preserve_filename"),
		MaxUploadSizeMB:  v.GetInt("max_upload_size_mb"),
		LiveQueryServer:  v.GetBool("live_query_server"),
		TLSCertFile:      v.GetString("tls_cert_file"),
		TLSKeyFile:       v.GetString("tls_key_file"),
		LogLevel:         v.GetString("log_level"),
		Port:             v.GetString("port"),
		RedisAddr:        v.GetString("redis_addr"),
		PluginRoots:      splitCSV(v.GetString("plugin_roots")),
		ContentTypes:     splitCSV(v.GetString("content_types")),
		IndexFrequency:   v.GetString("index_frequency"),
	}
	if env.Port == "" {
		env.Port = "8080"
	}
	env.ServerURI = fmt.Sprintf("http://localhost:%s", env.Port)
	env.PublicServerURI = v.GetString("public_server_uri")
	if env.PublicServerURI == "" {
		env.PublicServerURI = env.ServerURI
	}

	if err := validateRequired(env); err != nil {
		return nil, err
	}
	return env, nil
}

func bindRequired(v *viper.Viper) {
	for _, k := range []string{"database_uri", "app_id", "master_key", "refresh_secret", "access_secret"} {
		_ = v.BindEnv(k, toEnvKey(k))
	}
}

func toEnvKey(key string) string {
	out := make([]byte, 0, len(key))
	for _, r := range key {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			out = append(out, byte(r-32))
			continue
		}
		out = append(out, byte(r))
	}
	return string(out)
}

func validateRequired(env *Env) error {
	missing := []string{}
	if env.DatabaseURI == "" {
		missing = append(missing, "DATABASE_URI")
	}
	if env.AppID == "" {
		missing = append(missing, "APP_ID")
	}
	if env.MasterKey == "" {
		missing = append(missing, "MASTER_KEY")
	}
	if env.RefreshSecret == "" {
		missing = append(missing, "REFRESH_SECRET")
	}
	if env.AccessSecret == "" {
		missing = append(missing, "ACCESS_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %v", missing)
	}
	return nil
}

func mergeNamed(v *viper.Viper, src, id string) error {
	base := "env.json"
	if id != "" {
		base = fmt.Sprintf("env.%s.json", id)
	}
	path := filepath.Join(src, base)
	if _, err := os.Stat(path); err == nil {
		return mergeFile(v, path)
	}
	tomlPath := path[:len(path)-len(filepath.Ext(path))] + ".toml"
	if _, err := os.Stat(tomlPath); err == nil {
		return mergeFile(v, tomlPath)
	}
	// Absence of an env file is not fatal: process env alone may suffice.
	return nil
}

func mergeFile(v *viper.Viper, path string) error {
	switch filepath.Ext(path) {
	case ".toml":
		data := map[string]interface{}{}
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return err
		}
		return v.MergeConfigMap(flatten(data))
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data := map[string]interface{}{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return v.MergeConfigMap(flatten(data))
	}
}

// flatten lower-cases top-level keys so both JSON/TOML "DATABASE_URI" style
// and "database_uri" style keys land on the same viper key.
func flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, val := range data {
		out[toLower(k)] = val
	}
	return out
}

// splitCSV parses a comma-separated list into its trimmed, non-empty
// elements; e.g. for PLUGIN_ROOTS and CONTENT_TYPES.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
