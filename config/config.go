package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	Elastic    ElasticConfig
	NewRelic   NewRelicConfig
	Hedera     HederaConfig
	Storage    StorageConfig
	Queue      QueueConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ServiceBusConfig holds the Azure Service Bus configuration used for
// job lifecycle and dead-letter notifications
type ServiceBusConfig struct {
	ConnectionString string
	TopicName        string
}

// ElasticConfig holds the Elasticsearch configuration for audit-trail indexing
type ElasticConfig struct {
	URLs     []string
	Username string
	Password string
	Index    string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// HederaConfig holds the distributed-ledger client configuration.
// OperatorID/OperatorKey identify the paying account; TopicID is the
// consensus audit topic; TokenID is the KènèPoints fungible token.
type HederaConfig struct {
	Network       string // testnet, mainnet
	OperatorID    string
	OperatorKey   string
	TopicID       string
	TokenID       string
	CustodyID     string // account holding custodial user balances
	EncryptionKey string // hex-encoded AES-256 key for anchored payloads
	HMACSecret    string // envelope signing secret
	CallTimeout   time.Duration
	MaxFeeHbar    float64
}

// StorageConfig holds the object storage configuration. When the MinIO
// endpoint is empty the service falls back to local-disk storage.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	LocalPath string
}

// QueueConfig holds the durable job queue tuning knobs
type QueueConfig struct {
	Workers          int
	PollInterval     time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	JobTimeout       time.Duration
	StuckThreshold   time.Duration
	ReconcileWindow  time.Duration
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/ledger-service")
		viper.SetConfigName("config")
	}

	// Environment overrides, e.g. LEDGER_SERVER_PORT -> server.port
	viper.SetEnvPrefix("LEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8094)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "ledger")
	viper.SetDefault("database.password", "ledger")
	viper.SetDefault("database.dbname", "ledger_service_db")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// No default connection string for security
	viper.SetDefault("servicebus.topicname", "ledger-events")

	viper.SetDefault("elastic.urls", []string{"http://localhost:9200"})
	viper.SetDefault("elastic.index", "audit-log")

	viper.SetDefault("newrelic.appname", "Ledger Service Local")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("hedera.network", "testnet")
	viper.SetDefault("hedera.calltimeout", "30s")
	viper.SetDefault("hedera.maxfeehbar", 2.0)

	viper.SetDefault("storage.bucket", "santekene-documents")
	viper.SetDefault("storage.localpath", "./uploads")
	viper.SetDefault("storage.usessl", false)

	viper.SetDefault("queue.workers", 3)
	viper.SetDefault("queue.pollinterval", "1s")
	viper.SetDefault("queue.maxattempts", 5)
	viper.SetDefault("queue.backoffbase", "2s")
	viper.SetDefault("queue.backoffcap", "60s")
	viper.SetDefault("queue.jobtimeout", "45s")
	viper.SetDefault("queue.stuckthreshold", "5m")
	viper.SetDefault("queue.reconcilewindow", "1h")
}

// Load loads the configuration
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: viper.GetInt("server.port"),
			Mode: viper.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			TopicName:        viper.GetString("servicebus.topicname"),
		},
		Elastic: ElasticConfig{
			URLs:     viper.GetStringSlice("elastic.urls"),
			Username: viper.GetString("elastic.username"),
			Password: viper.GetString("elastic.password"),
			Index:    viper.GetString("elastic.index"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Hedera: HederaConfig{
			Network:       viper.GetString("hedera.network"),
			OperatorID:    viper.GetString("hedera.operatorid"),
			OperatorKey:   viper.GetString("hedera.operatorkey"),
			TopicID:       viper.GetString("hedera.topicid"),
			TokenID:       viper.GetString("hedera.tokenid"),
			CustodyID:     viper.GetString("hedera.custodyid"),
			EncryptionKey: viper.GetString("hedera.encryptionkey"),
			HMACSecret:    viper.GetString("hedera.hmacsecret"),
			CallTimeout:   viper.GetDuration("hedera.calltimeout"),
			MaxFeeHbar:    viper.GetFloat64("hedera.maxfeehbar"),
		},
		Storage: StorageConfig{
			Endpoint:  viper.GetString("storage.endpoint"),
			AccessKey: viper.GetString("storage.accesskey"),
			SecretKey: viper.GetString("storage.secretkey"),
			UseSSL:    viper.GetBool("storage.usessl"),
			Bucket:    viper.GetString("storage.bucket"),
			LocalPath: viper.GetString("storage.localpath"),
		},
		Queue: QueueConfig{
			Workers:         viper.GetInt("queue.workers"),
			PollInterval:    viper.GetDuration("queue.pollinterval"),
			MaxAttempts:     viper.GetInt("queue.maxattempts"),
			BackoffBase:     viper.GetDuration("queue.backoffbase"),
			BackoffCap:      viper.GetDuration("queue.backoffcap"),
			JobTimeout:      viper.GetDuration("queue.jobtimeout"),
			StuckThreshold:  viper.GetDuration("queue.stuckthreshold"),
			ReconcileWindow: viper.GetDuration("queue.reconcilewindow"),
		},
	}, nil
}
