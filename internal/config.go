package internal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ClientConfig configures the terminal client and its session.
type ClientConfig struct {
	ServerURL         string        `env:"CHATTER_SERVER_URL,default=http://localhost:8080"`
	Token             string        `env:"CHATTER_TOKEN"`
	Username          string        `env:"CHATTER_USERNAME"`
	Password          string        `env:"CHATTER_PASSWORD"`
	LogLevel          string        `env:"LOG_LEVEL,default=WARN"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=20"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT,default=5s"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT,default=10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=15s"`
	ReconnectMinDelay time.Duration `env:"RECONNECT_MIN_DELAY,default=500ms"`
	ReconnectMaxDelay time.Duration `env:"RECONNECT_MAX_DELAY,default=30s"`
}

// RelayConfig configures the development relay.
type RelayConfig struct {
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=20"`
	LimitMessages     int           `env:"LIMIT_MESSAGES,default=200"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	SendQueueSize     int           `env:"SEND_QUEUE_SIZE,default=64"`
	EnableInspect     bool          `env:"ENABLE_INSPECT,default=false"`
	// CensoredWords is a comma separated dictionary, empty disables moderation.
	CensoredWords        string `env:"CENSORED_WORDS"`
	CharacterReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Dictionary splits CensoredWords, blanks are dropped.
func (c RelayConfig) Dictionary() []string {
	return lo.Compact(lo.Map(strings.Split(c.CensoredWords, ","), func(w string, _ int) string {
		return strings.TrimSpace(w)
	}))
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("CHARACTER_REPLACEMENT must be a single character, got %q", str)
	}
	return r[0], nil
}

// WebsocketURL derives the live endpoint from the REST base URL:
// http://host:port/api -> ws://host:port/api/ws.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be http or https", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
