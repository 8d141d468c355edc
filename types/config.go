package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is a struct to hold the configuration data
type Config struct {
	Logging struct {
		OutputLevel  string `yaml:"outputLevel" envconfig:"LOGGING_OUTPUT_LEVEL"`
		OutputStderr bool   `yaml:"outputStderr" envconfig:"LOGGING_OUTPUT_STDERR"`

		FilePath  string `yaml:"filePath" envconfig:"LOGGING_FILE_PATH"`
		FileLevel string `yaml:"fileLevel" envconfig:"LOGGING_FILE_LEVEL"`
	} `yaml:"logging"`

	Server struct {
		Port string `yaml:"port" envconfig:"SERVER_PORT"`
		Host string `yaml:"host" envconfig:"SERVER_HOST"`

		HttpReadTimeout  time.Duration `yaml:"httpReadTimeout" envconfig:"SERVER_HTTP_READ_TIMEOUT"`
		HttpWriteTimeout time.Duration `yaml:"httpWriteTimeout" envconfig:"SERVER_HTTP_WRITE_TIMEOUT"`
		HttpIdleTimeout  time.Duration `yaml:"httpIdleTimeout" envconfig:"SERVER_HTTP_IDLE_TIMEOUT"`
	} `yaml:"server"`

	ExecutionApi struct {
		Endpoint         string            `yaml:"endpoint" envconfig:"EXECUTIONAPI_ENDPOINT"`
		Name             string            `yaml:"name" envconfig:"EXECUTIONAPI_NAME"`
		Headers          map[string]string `yaml:"headers"`
		CallTimeout      time.Duration     `yaml:"callTimeout" envconfig:"EXECUTIONAPI_CALL_TIMEOUT"`
		HeadPollInterval time.Duration     `yaml:"headPollInterval" envconfig:"EXECUTIONAPI_HEAD_POLL_INTERVAL"`
		LogBatchSize     uint64            `yaml:"logBatchSize" envconfig:"EXECUTIONAPI_LOG_BATCH_SIZE"`
	} `yaml:"executionapi"`

	Bank struct {
		BankContract  string   `yaml:"bankContract" envconfig:"BANK_CONTRACT"`
		LocksContract string   `yaml:"locksContract" envconfig:"BANK_LOCKS_CONTRACT"`
		LockSlot      string   `yaml:"lockSlot" envconfig:"BANK_LOCK_SLOT"`
		TokenFilter   string   `yaml:"tokenFilter" envconfig:"BANK_TOKEN_FILTER"`
		EventWindow   uint64   `yaml:"eventWindow" envconfig:"BANK_EVENT_WINDOW"`
		EventKinds    []string `yaml:"eventKinds" envconfig:"BANK_EVENT_KINDS"`
	} `yaml:"bank"`

	Storage struct {
		Stride          uint64 `yaml:"stride" envconfig:"STORAGE_STRIDE"`
		OwnerWord       uint64 `yaml:"ownerWord" envconfig:"STORAGE_OWNER_WORD"`
		StartTimeWord   uint64 `yaml:"startTimeWord" envconfig:"STORAGE_START_TIME_WORD"`
		StartTimeBits   uint   `yaml:"startTimeBits" envconfig:"STORAGE_START_TIME_BITS"`
		AmountWord      uint64 `yaml:"amountWord" envconfig:"STORAGE_AMOUNT_WORD"`
		AmountBits      uint   `yaml:"amountBits" envconfig:"STORAGE_AMOUNT_BITS"`
		StrictDecode    bool   `yaml:"strictDecode" envconfig:"STORAGE_STRICT_DECODE"`
		MaxElements     uint64 `yaml:"maxElements" envconfig:"STORAGE_MAX_ELEMENTS"`
		ReadConcurrency int    `yaml:"readConcurrency" envconfig:"STORAGE_READ_CONCURRENCY"`
	} `yaml:"storage"`

	Cache struct {
		Ttl              time.Duration `yaml:"ttl" envconfig:"CACHE_TTL"`
		BlockGrace       uint64        `yaml:"blockGrace" envconfig:"CACHE_BLOCK_GRACE"`
		CallTimeout      time.Duration `yaml:"callTimeout" envconfig:"CACHE_CALL_TIMEOUT"`
		LocalCacheSize   int           `yaml:"localCacheSize" envconfig:"CACHE_LOCAL_SIZE"`
		RedisCacheAddr   string        `yaml:"redisCacheAddr" envconfig:"CACHE_REDIS_ADDR"`
		RedisCachePrefix string        `yaml:"redisCachePrefix" envconfig:"CACHE_REDIS_PREFIX"`
		LockRecordsTtl   time.Duration `yaml:"lockRecordsTtl" envconfig:"CACHE_LOCK_RECORDS_TTL"`
	} `yaml:"cache"`

	Permits struct {
		Enabled   bool          `yaml:"enabled" envconfig:"PERMITS_ENABLED"`
		RedisAddr string        `yaml:"redisAddr" envconfig:"PERMITS_REDIS_ADDR"`
		Prefix    string        `yaml:"prefix" envconfig:"PERMITS_PREFIX"`
		Ttl       time.Duration `yaml:"ttl" envconfig:"PERMITS_TTL"`
	} `yaml:"permits"`

	RateLimit struct {
		Enabled    bool `yaml:"enabled" envconfig:"RATELIMIT_ENABLED"`
		ProxyCount uint `yaml:"proxyCount" envconfig:"RATELIMIT_PROXY_COUNT"`
		Rate       uint `yaml:"rate" envconfig:"RATELIMIT_RATE"`
		Burst      uint `yaml:"burst" envconfig:"RATELIMIT_BURST"`
	} `yaml:"rateLimit"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
		Public  bool   `yaml:"public" envconfig:"METRICS_PUBLIC"`
		Host    string `yaml:"host" envconfig:"METRICS_HOST"`
		Port    string `yaml:"port" envconfig:"METRICS_PORT"`
	} `yaml:"metrics"`
}

// Validate checks the settings every command depends on.
func (cfg *Config) Validate() error {
	if cfg.ExecutionApi.Endpoint == "" {
		return fmt.Errorf("missing execution api endpoint")
	}
	if !common.IsHexAddress(cfg.Bank.BankContract) {
		return fmt.Errorf("invalid bank contract address: %q", cfg.Bank.BankContract)
	}
	if cfg.Bank.LocksContract != "" && !common.IsHexAddress(cfg.Bank.LocksContract) {
		return fmt.Errorf("invalid locks contract address: %q", cfg.Bank.LocksContract)
	}
	if cfg.Bank.TokenFilter != "" && !common.IsHexAddress(cfg.Bank.TokenFilter) {
		return fmt.Errorf("invalid token filter address: %q", cfg.Bank.TokenFilter)
	}
	if cfg.Bank.EventWindow == 0 {
		return fmt.Errorf("event window must be > 0")
	}
	if cfg.Cache.BlockGrace == 0 {
		return fmt.Errorf("cache block grace must be > 0")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate limit burst must be > 0")
	}

	return nil
}
