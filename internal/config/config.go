package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

const (
	// DatadirKey is the local data directory to store the internal state of
	// the daemon.
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the
	// values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// ListeningPortKey is the port where the HTTP operator interface listens on.
	ListeningPortKey = "LISTENING_PORT"
	// DBTypeKey selects the trade store, one of badger, sqlite or inmemory.
	DBTypeKey = "DB_TYPE"
	// PipelineTimeoutKey is the max duration of a single protocol step.
	PipelineTimeoutKey = "PIPELINE_TIMEOUT"
	// ResendInitialDelayKey is the delay before the first resend of an
	// unacknowledged message.
	ResendInitialDelayKey = "RESEND_INITIAL_DELAY"
	// ResendBaseDelayKey is the delay between later resends, multiplied by
	// ResendFactorKey at every attempt.
	ResendBaseDelayKey    = "RESEND_BASE_DELAY"
	ResendFactorKey       = "RESEND_FACTOR"
	MaxResendAttemptsKey  = "MAX_RESEND_ATTEMPTS"
	ReprocessBaseDelayKey = "REPROCESS_BASE_DELAY"
	// MaxReprocessAttemptsKey is how many times a message received in an
	// unexpected state is handled again.
	MaxReprocessAttemptsKey = "MAX_REPROCESS_ATTEMPTS"
	// DepositConfirmationsKey is the number of blocks after which deposits
	// are considered confirmed.
	DepositConfirmationsKey = "DEPOSIT_CONFIRMATIONS"
	// DepositUnlockConfirmationsKey is the number of blocks after which
	// deposits can be spent.
	DepositUnlockConfirmationsKey = "DEPOSIT_UNLOCK_CONFIRMATIONS"
	ChainWatchIntervalKey         = "CHAIN_WATCH_INTERVAL"
	// MailboxReplayRateKey is the max number of stored messages replayed per
	// second at startup.
	MailboxReplayRateKey = "MAILBOX_REPLAY_RATE"
	// PaymentMethodsFileKey is the path of a yaml file overriding the
	// built-in payment method table.
	PaymentMethodsFileKey = "PAYMENT_METHODS_FILE"
	// StatsIntervalKey defines the interval for printing memory statistics,
	// 0 disables them.
	StatsIntervalKey = "STATS_INTERVAL"
	// BlockIntervalKey is the block time of the sandbox chain.
	BlockIntervalKey = "BLOCK_INTERVAL"

	DbLocation = "db"

	DBBadger   = "badger"
	DBSqlite   = "sqlite"
	DBInMemory = "inmemory"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("escrowd", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROW")
	vip.AutomaticEnv()

	defaultProtocol := protocol.DefaultConfig()
	defaultTrade := trade.DefaultConfig()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(ListeningPortKey, 9080)
	vip.SetDefault(DBTypeKey, DBBadger)
	vip.SetDefault(PipelineTimeoutKey, defaultProtocol.PipelineTimeout)
	vip.SetDefault(ResendInitialDelayKey, defaultProtocol.ResendInitialDelay)
	vip.SetDefault(ResendBaseDelayKey, defaultProtocol.ResendBaseDelay)
	vip.SetDefault(ResendFactorKey, defaultProtocol.ResendFactor)
	vip.SetDefault(MaxResendAttemptsKey, defaultProtocol.MaxResendAttempts)
	vip.SetDefault(ReprocessBaseDelayKey, defaultProtocol.ReprocessBaseDelay)
	vip.SetDefault(MaxReprocessAttemptsKey, defaultProtocol.MaxReprocessAttempts)
	vip.SetDefault(DepositConfirmationsKey, defaultTrade.DepositConfirmations)
	vip.SetDefault(DepositUnlockConfirmationsKey, defaultTrade.DepositUnlockConfirmations)
	vip.SetDefault(ChainWatchIntervalKey, defaultTrade.ChainWatchInterval)
	vip.SetDefault(MailboxReplayRateKey, defaultTrade.MailboxReplayRate)
	vip.SetDefault(StatsIntervalKey, 600)
	vip.SetDefault(BlockIntervalKey, 10*time.Second)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetTradeConfig returns the trade manager settings, protocol included.
func GetTradeConfig() trade.Config {
	return trade.Config{
		Protocol: protocol.Config{
			PipelineTimeout:      GetDuration(PipelineTimeoutKey),
			ResendInitialDelay:   GetDuration(ResendInitialDelayKey),
			ResendBaseDelay:      GetDuration(ResendBaseDelayKey),
			ResendFactor:         GetFloat(ResendFactorKey),
			MaxResendAttempts:    GetInt(MaxResendAttemptsKey),
			ReprocessBaseDelay:   GetDuration(ReprocessBaseDelayKey),
			MaxReprocessAttempts: GetInt(MaxReprocessAttemptsKey),
		},
		DepositConfirmations:       GetUint64(DepositConfirmationsKey),
		DepositUnlockConfirmations: GetUint64(DepositUnlockConfirmationsKey),
		ChainWatchInterval:         GetDuration(ChainWatchIntervalKey),
		MailboxReplayRate:          GetInt(MailboxReplayRateKey),
	}
}

type paymentMethodsFile struct {
	PaymentMethods []domain.PaymentMethod `yaml:"payment_methods"`
}

// GetPaymentMethods returns the payment method table, read from the
// configured file if any.
func GetPaymentMethods() (*domain.PaymentMethods, error) {
	path := GetString(PaymentMethodsFileKey)
	if path == "" {
		return domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	}
	return LoadPaymentMethods(path)
}

// LoadPaymentMethods parses a yaml payment method table.
func LoadPaymentMethods(path string) (*domain.PaymentMethods, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment methods file: %w", err)
	}
	var file paymentMethodsFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("malformed payment methods file: %w", err)
	}
	if len(file.PaymentMethods) == 0 {
		return nil, fmt.Errorf("no payment methods in %s", path)
	}
	return domain.NewPaymentMethods(file.PaymentMethods)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	switch dbType := GetString(DBTypeKey); dbType {
	case DBBadger, DBSqlite, DBInMemory:
	default:
		return fmt.Errorf("unknown db type %q", dbType)
	}

	port := GetInt(ListeningPortKey)
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid listening port %d", port)
	}

	if GetUint64(DepositUnlockConfirmationsKey) < GetUint64(DepositConfirmationsKey) {
		return fmt.Errorf(
			"%s must be equal or greater than %s",
			DepositUnlockConfirmationsKey, DepositConfirmationsKey,
		)
	}
	if GetDuration(BlockIntervalKey) <= 0 {
		return fmt.Errorf("%s must be positive", BlockIntervalKey)
	}

	return GetTradeConfig().Validate()
}

func initDatadir() error {
	if GetString(DBTypeKey) == DBInMemory {
		return nil
	}
	return makeDirectoryIfNotExists(filepath.Join(GetDatadir(), DbLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
