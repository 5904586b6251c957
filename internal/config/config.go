// Package config loads the process-wide configuration surface from
// spec.md §6. It is loaded once at process start and handed as a shared
// pointer to every component constructor; nothing here is mutated afterward.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable configuration snapshot for one run.
type Config struct {
	// SIP upstream / registration
	SIPServer       string // host:port of the upstream PBX/registrar
	AuthorizationUser string // SIP_AUTHORIZATION_USER, the extension
	Password        string
	ClientPort      int
	PublicIP        string
	BindAddr        string
	SkipRegistration bool

	// Media
	RTPPort         int // 0 means pick from the configured range
	RTPPortRangeStart int
	RTPPortRangeEnd   int

	// AI realtime
	AIRealtimeURL   string
	AIAPIKey        string
	AIVoice         string
	AIInstructions  string

	// Limits / policy
	MaxConcurrentCalls int
	SessionExpiresSeconds int
	DisableByeHeuristic bool
	RequireRTPBeforeAI  bool

	// Ambient
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, falling back to
// the documented defaults from spec.md §6. Flags are parsed first; then
// every environment variable that is set overrides the corresponding
// field, including a field already given as a flag.
func Load() (*Config, error) {
	cfg := &Config{
		ClientPort:            5060,
		BindAddr:              "0.0.0.0",
		RTPPortRangeStart:     8000,
		RTPPortRangeEnd:       18000,
		AIVoice:               "alloy",
		MaxConcurrentCalls:    10,
		SessionExpiresSeconds: 1800,
		LogLevel:              "info",
		LogFormat:             "json",
	}

	flag.StringVar(&cfg.SIPServer, "sip-server", "", "upstream SIP server host:port")
	flag.StringVar(&cfg.AuthorizationUser, "sip-user", "", "SIP extension / authorization user")
	flag.StringVar(&cfg.Password, "sip-password", "", "SIP shared secret")
	flag.IntVar(&cfg.ClientPort, "sip-client-port", cfg.ClientPort, "local SIP UDP port")
	flag.StringVar(&cfg.PublicIP, "public-ip", "", "public IP advertised in Contact")
	flag.BoolVar(&cfg.SkipRegistration, "skip-sip-registration", false, "skip REGISTER, test mode")
	flag.Parse()

	cfg.applyEnv()

	if cfg.SIPServer == "" && !cfg.SkipRegistration {
		return nil, fmt.Errorf("SIP_SERVER is required unless SKIP_SIP_REGISTRATION is set")
	}
	if cfg.AuthorizationUser == "" && !cfg.SkipRegistration {
		return nil, fmt.Errorf("SIP_AUTHORIZATION_USER is required unless SKIP_SIP_REGISTRATION is set")
	}
	if cfg.RTPPortRangeStart >= cfg.RTPPortRangeEnd {
		return nil, fmt.Errorf("RTP port range is empty: %d-%d", cfg.RTPPortRangeStart, cfg.RTPPortRangeEnd)
	}

	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("SIP_SERVER"); v != "" {
		cfg.SIPServer = v
	}
	if v := os.Getenv("SIP_AUTHORIZATION_USER"); v != "" {
		cfg.AuthorizationUser = v
	}
	if v := os.Getenv("SIP_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := envInt("SIP_CLIENT_PORT"); v != 0 {
		cfg.ClientPort = v
	}
	if v := envInt("RTP_PORT"); v != 0 {
		cfg.RTPPort = v
	}
	if v := os.Getenv("PUBLIC_IP"); v != "" {
		cfg.PublicIP = v
	}
	if v := os.Getenv("AI_REALTIME_URL"); v != "" {
		cfg.AIRealtimeURL = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("AI_VOICE"); v != "" {
		cfg.AIVoice = v
	}
	if v := os.Getenv("AI_INSTRUCTIONS"); v != "" {
		cfg.AIInstructions = v
	}
	if v := envInt("MAX_CONCURRENT_CALLS"); v != 0 {
		cfg.MaxConcurrentCalls = v
	}
	if v := os.Getenv("SKIP_SIP_REGISTRATION"); v != "" {
		cfg.SkipRegistration = envBool(v)
	}
	if v := envInt("SESSION_EXPIRES_SECONDS"); v != 0 {
		cfg.SessionExpiresSeconds = v
	}
	if v := os.Getenv("BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("RTP_PORT_RANGE"); v != "" {
		if start, end, ok := parseRange(v); ok {
			cfg.RTPPortRangeStart, cfg.RTPPortRangeEnd = start, end
		}
	}
	if v := os.Getenv("DISABLE_BYE_HEURISTIC"); v != "" {
		cfg.DisableByeHeuristic = envBool(v)
	}
	if v := os.Getenv("REQUIRE_RTP_BEFORE_AI"); v != "" {
		cfg.RequireRTPBeforeAI = envBool(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseRange(v string) (int, int, bool) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}

// RegistrationRefreshDelay returns how long after a successful REGISTER
// the proactive refresh should fire, per spec.md §3 (50% of granted expires).
func RegistrationRefreshDelay(grantedExpires int) time.Duration {
	return time.Duration(grantedExpires) * time.Second / 2
}
