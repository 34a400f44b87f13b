package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/client"
	"github.com/Sternrassler/chapter-digest/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys. Flags are bound to them; DIGEST_<KEY> environment
// variables use "_" for "." and "-".
const (
	apiEndpointKey    = "api.endpoint"
	apiKeysKey        = "api.keys"
	apiModelsKey      = "api.models"
	apiUserAgentKey   = "api.user-agent"
	apiTimeoutKey     = "api.timeout"
	apiTemperatureKey = "api.temperature"
	apiMaxTokensKey   = "api.max-tokens"

	workersKey            = "workers"
	startIndexKey         = "start-index"
	summaryTargetCharsKey = "summary.target-chars"
	summaryMinFractionKey = "summary.min-fraction"

	retryTimesKey      = "retry.times"
	retryFileTimesKey  = "retry.file-times"
	retryBaseDelayKey  = "retry.base-delay"
	retryMaxBackoffKey = "retry.max-backoff"
	retryFileDelayKey  = "retry.file-delay"
	retryFileMaxKey    = "retry.file-max-delay"

	checkpointClearKey     = "checkpoint.clear"
	checkpointModeKey      = "checkpoint.mode"
	checkpointBackendKey   = "checkpoint.backend"
	checkpointDirKey       = "checkpoint.dir"
	checkpointRedisURLKey  = "checkpoint.redis-url"
	checkpointNamespaceKey = "checkpoint.namespace"

	inputDirsKey         = "input.dirs"
	inputMaxCharsKey     = "input.max-chars"
	inputPollIntervalKey = "input.poll-interval"
	inputWaitTimeoutKey  = "input.wait-timeout"

	outputKey      = "output"
	metricsAddrKey = "metrics.addr"
	logLevelKey    = "log.level"
	logPrettyKey   = "log.pretty"
)

const (
	backendFile  = "file"
	backendRedis = "redis"
)

// flagBinding maps a flag name to its configuration key.
type flagBinding struct {
	flag string
	key  string
}

var bindings = []flagBinding{
	{"api-endpoint", apiEndpointKey},
	{"api-keys", apiKeysKey},
	{"models", apiModelsKey},
	{"user-agent", apiUserAgentKey},
	{"request-timeout", apiTimeoutKey},
	{"temperature", apiTemperatureKey},
	{"max-tokens", apiMaxTokensKey},
	{"workers", workersKey},
	{"start-index", startIndexKey},
	{"target-chars", summaryTargetCharsKey},
	{"min-fraction", summaryMinFractionKey},
	{"retry-times", retryTimesKey},
	{"file-retry-times", retryFileTimesKey},
	{"retry-delay", retryBaseDelayKey},
	{"max-backoff", retryMaxBackoffKey},
	{"file-retry-delay", retryFileDelayKey},
	{"file-max-delay", retryFileMaxKey},
	{"clear-checkpoints", checkpointClearKey},
	{"existing", checkpointModeKey},
	{"store", checkpointBackendKey},
	{"checkpoint-dir", checkpointDirKey},
	{"redis-url", checkpointRedisURLKey},
	{"namespace", checkpointNamespaceKey},
	{"input-dir", inputDirsKey},
	{"max-input-chars", inputMaxCharsKey},
	{"poll-interval", inputPollIntervalKey},
	{"wait-timeout", inputWaitTimeoutKey},
	{"output", outputKey},
	{"metrics-addr", metricsAddrKey},
	{"log-level", logLevelKey},
	{"log-pretty", logPrettyKey},
}

// registerFlags declares every flag with its default.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("api-endpoint", "https://api.openai.com/v1/chat/completions", "chat-completions endpoint URL")
	flags.StringSlice("api-keys", nil, "(required) API keys, comma separated")
	flags.StringSlice("models", []string{"gpt-4.1-mini"}, "models to rotate through, comma separated")
	flags.String("user-agent", client.DefaultUserAgent, "User-Agent header sent with every request")
	flags.Duration("request-timeout", 40*time.Second, "timeout of a single HTTP request")
	flags.Float64("temperature", 0.6, "sampling temperature")
	flags.Int("max-tokens", 0, "maximum output tokens (0 omits the field)")

	flags.Int("workers", 4, "number of concurrent workers")
	flags.Int("start-index", 1, "first document index to process")
	flags.Int("target-chars", 1000, "requested summary length in characters")
	flags.Float64("min-fraction", 0.5, "fraction of target-chars a summary must reach")

	flags.Int("retry-times", 3, "attempts per call sequence")
	flags.Int("file-retry-times", 2, "attempts per document")
	flags.Duration("retry-delay", 3*time.Second, "base delay between call attempts (doubles per attempt)")
	flags.Duration("max-backoff", 60*time.Second, "cap of the exponential call delay")
	flags.Duration("file-retry-delay", 10*time.Second, "base delay between document attempts (doubles per attempt)")
	flags.Duration("file-max-delay", 5*time.Minute, "cap of the document retry delay (0 disables)")

	flags.Bool("clear-checkpoints", false, "remove all checkpoints before processing")
	flags.String("existing", string(checkpoint.ModeSkip), "existing checkpoints: skip or overwrite")
	flags.String("store", backendFile, "checkpoint backend: file or redis")
	flags.String("checkpoint-dir", "tmp", "checkpoint directory of the file backend")
	flags.String("redis-url", "localhost:6379", "address or redis:// URL of the redis backend")
	flags.String("namespace", "chapter-digest", "key namespace of the redis backend")

	flags.StringSlice("input-dir", []string{"txt", "TXT"}, "input directories, the first existing one is used")
	flags.Int("max-input-chars", 0, "truncate longer documents to head and tail (0 disables)")
	flags.Duration("poll-interval", 30*time.Second, "interval between scans while waiting for input")
	flags.Duration("wait-timeout", 0, "give up waiting for input after this long (0 waits forever)")

	flags.String("output", "summary.txt", "merged output file")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Bool("log-pretty", false, "human-readable console logs instead of JSON")
}

// mustBindPFlags binds every flag to its key and panics on failure.
func mustBindPFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			panic("failed to bind pflag " + b.flag + ": " + err.Error())
		}
	}
}

// Config is the resolved configuration of a command.
type Config struct {
	Endpoint    string
	Keys        []string
	Models      []string
	UserAgent   string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int

	Workers     int
	StartIndex  int
	TargetChars int
	MinFraction float64

	RetryTimes     int
	FileRetryTimes int
	RetryDelay     time.Duration
	MaxBackoff     time.Duration
	FileRetryDelay time.Duration
	FileMaxDelay   time.Duration

	ClearCheckpoints bool
	Mode             checkpoint.Mode
	Backend          string
	CheckpointDir    string
	RedisURL         string
	Namespace        string

	InputDirs     []string
	MaxInputChars int
	PollInterval  time.Duration
	WaitTimeout   time.Duration

	Output      string
	MetricsAddr string
	LogLevel    logging.LogLevel
	LogPretty   bool
}

// loadConfig reads v into a Config and validates what every command needs.
func loadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Endpoint:    v.GetString(apiEndpointKey),
		Keys:        splitList(v.GetStringSlice(apiKeysKey)),
		Models:      splitList(v.GetStringSlice(apiModelsKey)),
		UserAgent:   v.GetString(apiUserAgentKey),
		Timeout:     v.GetDuration(apiTimeoutKey),
		Temperature: v.GetFloat64(apiTemperatureKey),
		MaxTokens:   v.GetInt(apiMaxTokensKey),

		Workers:     v.GetInt(workersKey),
		StartIndex:  v.GetInt(startIndexKey),
		TargetChars: v.GetInt(summaryTargetCharsKey),
		MinFraction: v.GetFloat64(summaryMinFractionKey),

		RetryTimes:     v.GetInt(retryTimesKey),
		FileRetryTimes: v.GetInt(retryFileTimesKey),
		RetryDelay:     v.GetDuration(retryBaseDelayKey),
		MaxBackoff:     v.GetDuration(retryMaxBackoffKey),
		FileRetryDelay: v.GetDuration(retryFileDelayKey),
		FileMaxDelay:   v.GetDuration(retryFileMaxKey),

		ClearCheckpoints: v.GetBool(checkpointClearKey),
		Backend:          strings.ToLower(strings.TrimSpace(v.GetString(checkpointBackendKey))),
		CheckpointDir:    v.GetString(checkpointDirKey),
		RedisURL:         v.GetString(checkpointRedisURLKey),
		Namespace:        v.GetString(checkpointNamespaceKey),

		InputDirs:     splitList(v.GetStringSlice(inputDirsKey)),
		MaxInputChars: v.GetInt(inputMaxCharsKey),
		PollInterval:  v.GetDuration(inputPollIntervalKey),
		WaitTimeout:   v.GetDuration(inputWaitTimeoutKey),

		Output:      v.GetString(outputKey),
		MetricsAddr: v.GetString(metricsAddrKey),
		LogPretty:   v.GetBool(logPrettyKey),
	}

	var errs []error

	mode, err := checkpoint.ParseMode(v.GetString(checkpointModeKey))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Mode = mode

	level, err := logging.ParseLevel(v.GetString(logLevelKey))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	switch cfg.Backend {
	case backendFile:
		if strings.TrimSpace(cfg.CheckpointDir) == "" {
			errs = append(errs, errors.New("checkpoint dir is required for the file backend"))
		}
	case backendRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			errs = append(errs, errors.New("redis url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid checkpoint backend %q (want %q or %q)", cfg.Backend, backendFile, backendRedis))
	}

	if len(cfg.InputDirs) == 0 {
		errs = append(errs, errors.New("at least one input dir is required"))
	}
	if strings.TrimSpace(cfg.Output) == "" {
		errs = append(errs, errors.New("output path is required"))
	}

	return cfg, errors.Join(errs...)
}

// validateRun checks the settings only the run command uses.
func (c Config) validateRun() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1 (got %d)", c.Workers))
	}
	if c.StartIndex < 1 {
		errs = append(errs, fmt.Errorf("start index must be >= 1 (got %d)", c.StartIndex))
	}
	if c.RetryTimes < 1 {
		errs = append(errs, fmt.Errorf("retry times must be >= 1 (got %d)", c.RetryTimes))
	}
	if c.FileRetryTimes < 1 {
		errs = append(errs, fmt.Errorf("file retry times must be >= 1 (got %d)", c.FileRetryTimes))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be > 0 (got %s)", c.PollInterval))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max tokens must be >= 0 (got %d)", c.MaxTokens))
	}
	return errors.Join(errs...)
}

// splitList flattens comma-separated entries and drops blanks, so
// "--api-keys a,b", repeated flags and DIGEST_API_KEYS="a,b" all agree.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
