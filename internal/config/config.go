package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LIVELOOK"

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	Signaling SignalingConfig `mapstructure:"signaling"`
	Session   SessionConfig   `mapstructure:"session"`
	RTC       RTCConfig       `mapstructure:"rtc"`
	Peer      PeerConfig      `mapstructure:"peer"`
	Media     MediaConfig     `mapstructure:"media"`
	Relay     RelayConfig     `mapstructure:"relay"`
}

// SignalingConfig selects the transport of the signaling channel
type SignalingConfig struct {
	Transport        string        `mapstructure:"transport"`
	URL              string        `mapstructure:"url"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	NATSURL          string        `mapstructure:"nats_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
}

// SessionConfig bounds join and reconnect
type SessionConfig struct {
	JoinTimeout              time.Duration `mapstructure:"join_timeout"`
	ReconnectAttempts        int           `mapstructure:"reconnect_attempts"`
	ReconnectInitialInterval time.Duration `mapstructure:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `mapstructure:"reconnect_max_interval"`
	ReconnectAttemptTimeout  time.Duration `mapstructure:"reconnect_attempt_timeout"`
	ModerationTimeout        time.Duration `mapstructure:"moderation_timeout"`
}

type RTCConfig struct {
	ICEServers        []string `mapstructure:"ice_servers"`
	ICEPortRangeStart uint32   `mapstructure:"ice_port_range_start"`
	ICEPortRangeEnd   uint32   `mapstructure:"ice_port_range_end"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec `mapstructure:"enabled_codecs"`
}

// MediaConfig points the headless client at IVF files used instead of devices
type MediaConfig struct {
	VideoFile  string `mapstructure:"video_file"`
	ScreenFile string `mapstructure:"screen_file"`
}

type RelayConfig struct {
	Address         string        `mapstructure:"address"`
	MaxParticipants int           `mapstructure:"max_participants"`
	OfflineGrace    time.Duration `mapstructure:"offline_grace"`
	DatabaseURL     string        `mapstructure:"database_url"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signaling.transport", "websocket")
	v.SetDefault("signaling.url", "ws://localhost:3001/ws")
	v.SetDefault("signaling.redis_addr", "localhost:6379")
	v.SetDefault("signaling.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("signaling.handshake_timeout", "5s")
	v.SetDefault("signaling.ping_period", "20s")

	v.SetDefault("session.join_timeout", "5s")
	v.SetDefault("session.reconnect_attempts", 5)
	v.SetDefault("session.reconnect_initial_interval", "500ms")
	v.SetDefault("session.reconnect_max_interval", "8s")
	v.SetDefault("session.reconnect_attempt_timeout", "3s")
	v.SetDefault("session.moderation_timeout", "5s")

	v.SetDefault("rtc.ice_servers", DefaultStunServers)
	v.SetDefault("rtc.ice_port_range_start", 50000)
	v.SetDefault("rtc.ice_port_range_end", 60000)

	v.SetDefault("relay.address", ":3001")
	v.SetDefault("relay.max_participants", 50)
	v.SetDefault("relay.offline_grace", "30s")
	v.SetDefault("relay.max_message_size", 200*1024)
}

// Load reads defaults, then the optional file, then LIVELOOK_* environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(conf.Peer.EnabledCodecs) == 0 {
		conf.Peer.EnabledCodecs = defaultCodecs()
	}

	return conf, nil
}

// NewConfig returns the defaults without touching files or the environment
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	conf := &Config{}
	// defaults always decode
	_ = v.Unmarshal(conf)
	conf.Peer.EnabledCodecs = defaultCodecs()

	return conf
}
