// mediagenapi/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	ReplicateToken     string        `mapstructure:"REPLICATE_TOKEN"`
	ReplicateBase      string        `mapstructure:"REPLICATE_BASE"`
	ImageModel         string        `mapstructure:"IMAGE_MODEL"`
	VideoModel         string        `mapstructure:"VIDEO_MODEL"`
	VideoFallbackModel string        `mapstructure:"VIDEO_FALLBACK_MODEL"`
	LipsyncProvider    string        `mapstructure:"LIPSYNC_PROVIDER"`
	ElevenLabsKey      string        `mapstructure:"ELEVENLABS_KEY"`
	ElevenLabsBase     string        `mapstructure:"ELEVENLABS_BASE"`
	SyncLabsKey        string        `mapstructure:"SYNCLABS_KEY"`
	SyncLabsBase       string        `mapstructure:"SYNCLABS_BASE"`
	DIDKey             string        `mapstructure:"DID_KEY"`
	DIDBase            string        `mapstructure:"DID_BASE"`
	JobTimeout         time.Duration `mapstructure:"JOB_TIMEOUT"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL"`
	MaxUploadSize      int64         `mapstructure:"MAX_UPLOAD_SIZE"`
	StoragePath        string        `mapstructure:"STORAGE_PATH"`
	Port               string        `mapstructure:"PORT"`
	AuthEnable         bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey            string        `mapstructure:"AUTH_KEY"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Defaults as strings, the hooks handle the typed ones.
	vp.SetDefault("REPLICATE_TOKEN", "")
	vp.SetDefault("REPLICATE_BASE", "https://api.replicate.com/v1")
	vp.SetDefault("IMAGE_MODEL", "")
	vp.SetDefault("VIDEO_MODEL", "")
	vp.SetDefault("VIDEO_FALLBACK_MODEL", "")
	vp.SetDefault("LIPSYNC_PROVIDER", "elevenlabs")
	vp.SetDefault("ELEVENLABS_KEY", "")
	vp.SetDefault("ELEVENLABS_BASE", "https://api.elevenlabs.io/v1")
	vp.SetDefault("SYNCLABS_KEY", "")
	vp.SetDefault("SYNCLABS_BASE", "https://api.synclabs.so/v2")
	vp.SetDefault("DID_KEY", "")
	vp.SetDefault("DID_BASE", "https://api.d-id.com")
	vp.SetDefault("JOB_TIMEOUT", "5m")
	vp.SetDefault("POLL_INTERVAL", "5s")
	vp.SetDefault("MAX_UPLOAD_SIZE", "50MB")
	vp.SetDefault("STORAGE_PATH", "./storage")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	// Load from config file
	vp.SetConfigName("mediagen_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/mediagen/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("MEDIAGEN")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
