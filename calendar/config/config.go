// Package config defines this server's configuration surface and its
// reasonable defaults, grounded on node/defaults.go's DefaultConfig value
// pattern and gxp/config.go's naoina/toml loading.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Storage engine names for Config.DBType.
const (
	DBTypeLevelDB = "leveldb"
	DBTypeBadger  = "badger"
)

// Config is the calendar server's full configuration surface.
type Config struct {
	DataDir string `toml:"datadir"`
	DBType  string `toml:"dbtype"`
	URI     string `toml:"uri"`

	CommitmentInterval time.Duration `toml:"commitment_interval"`
	MinConfirmations   uint64        `toml:"min_confirmations"`
	MaxPending         int           `toml:"max_pending"`
	MinTxInterval      time.Duration `toml:"min_tx_interval"`
	RelayFeerate       int64         `toml:"relay_feerate_sat_per_byte"`
	MaxFeeSatoshis      int64        `toml:"max_fee_satoshis"`

	BitcoinRPCHost string `toml:"bitcoin_rpc_host"`
	BitcoinRPCUser string `toml:"bitcoin_rpc_user"`
	BitcoinRPCPass string `toml:"bitcoin_rpc_pass"`
	BitcoinRPCTimeout time.Duration `toml:"bitcoin_rpc_timeout"`

	HTTPListenAddr string `toml:"http_listen_addr"`

	BackupPaging    uint64 `toml:"backup_paging"`
	BackupCacheDir  string `toml:"backup_cache_dir"`

	MetricsListenAddr string `toml:"metrics_listen_addr"`
}

// DefaultConfig mirrors node/defaults.go's DefaultConfig package value:
// reasonable defaults a deployer overrides selectively.
var DefaultConfig = Config{
	DataDir:            DefaultDataDir(),
	DBType:             DBTypeLevelDB,
	CommitmentInterval: 1 * time.Second,
	MinConfirmations:   6,
	MaxPending:         1 << 16,
	MinTxInterval:      10 * time.Minute,
	RelayFeerate:       1,
	MaxFeeSatoshis:     1_000_000,
	BitcoinRPCHost:     "127.0.0.1:8332",
	BitcoinRPCTimeout:  30 * time.Second,
	HTTPListenAddr:     ":14788",
	BackupPaging:       1000,
	MetricsListenAddr:  ":6062",
}

// DefaultDataDir picks an OS-appropriate default directory, following
// node/defaults.go's DefaultDataDir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./otscal-data"
	}
	return home + "/.otscal"
}

// JournalPath, DBPath, URIPath, HMACKeyPath follow the on-disk layout
// under <base>.
func (c Config) JournalPath() string       { return c.DataDir + "/journal" }
func (c Config) KnownGoodPath() string     { return c.DataDir + "/journal.known-good" }
func (c Config) DBPath() string            { return c.DataDir + "/db" }
func (c Config) URIPath() string           { return c.DataDir + "/uri" }
func (c Config) HMACKeyPath() string       { return c.DataDir + "/hmac-key" }
func (c Config) BackupCacheDirOrDefault() string {
	if c.BackupCacheDir != "" {
		return c.BackupCacheDir
	}
	return c.DataDir + "/backup_cache"
}

// LoadTOML reads and merges a TOML config file over DefaultConfig,
// mirroring cmd/utils/nodecmd/dumpconfigcmd.go's load-then-override flow.
func LoadTOML(path string) (Config, error) {
	cfg := DefaultConfig
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DumpTOML serialises cfg back to TOML text, the inverse of LoadTOML.
func DumpTOML(cfg Config) ([]byte, error) {
	return toml.Marshal(&cfg)
}
