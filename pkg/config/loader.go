package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultFile is the config name looked up in the working directory.
const DefaultFile = "tabletalk"

// Load reads configuration from a file and environment variables. name is
// either a bare config name searched in the working directory or a path to
// a YAML file.
func Load(logger *slog.Logger, name string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	setDefaults(v)

	// 2. Set config file details
	if name == "" {
		name = DefaultFile
	}
	if strings.ContainsRune(name, filepath.Separator) || filepath.Ext(name) != "" {
		v.SetConfigFile(name)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("TABLETALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Warn("Config file not found, relying on defaults and env vars", slog.String("name", name))
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents()
	}

	for _, perm := range cfg.Permissions {
		if err := RegisterPermission(perm); err != nil && !errors.Is(err, ErrPermissionExists) {
			return nil, err
		}
	}
	logger.Debug("Permission registry loaded", slog.Int("total_permissions", len(GetAllRegistered())))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")

	v.SetDefault("client.serverURL", "ws://localhost:8080/ws")
	v.SetDefault("client.apiURL", "http://localhost:8080/api")
	v.SetDefault("client.connectTimeout", "10s")
	v.SetDefault("client.reconnectDelay", "2s")
	v.SetDefault("client.typingIdle", "1s")
	v.SetDefault("client.peerTypingTTL", "1s")
	v.SetDefault("client.notificationSyncTimeout", "10s")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.connectionLimit.maxPerUser", 5)
	v.SetDefault("server.connectionLimit.mode", "cycle")

	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.pingTimeout", "10s")
	v.SetDefault("transport.sendQueue", 256)
	v.SetDefault("transport.readLimit", 64<<10)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "data/tabletalk")
}
