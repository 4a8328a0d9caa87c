package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/emberwallet/emberd/build"
)

const (
	defaultLogFilename = "emberd.log"
	defaultDBFilename  = "wallet.db"

	defaultCheckpointInterval = time.Minute

	defaultRemoteCheckInterval = time.Minute
	defaultRemoteCheckTimeout  = 10 * time.Second
	defaultRemoteCheckBackoff  = 30 * time.Second
	defaultRemoteCheckAttempts = 3
)

var (
	defaultDataDir = btcutil.AppDataDir("emberd", false)
	defaultLogDir  = filepath.Join(defaultDataDir, "logs")
)

// RemoteConfig holds the connection and health check settings of the remote
// versioned store.
//
//nolint:lll
type RemoteConfig struct {
	Endpoint string `long:"endpoint" description:"Base URL of the remote versioned store. Remote replication is disabled when empty."`
	StoreID  string `long:"storeid" description:"Store identifier all remote operations are scoped to."`
	Token    string `long:"token" description:"Bearer token used to authenticate against the remote store."`

	CheckInterval time.Duration `long:"checkinterval" description:"Interval between remote store health checks."`
	CheckTimeout  time.Duration `long:"checktimeout" description:"Time to wait for a remote store health check before considering it failed."`
	CheckBackoff  time.Duration `long:"checkbackoff" description:"Time to back off between failed remote store health checks."`
	CheckAttempts int           `long:"checkattempts" description:"Number of failed remote store health checks tolerated before shutting down. 0 disables the check."`
}

// Config holds the emberd daemon configuration.
//
//nolint:lll
type Config struct {
	DataDir    string `long:"datadir" description:"Directory the wallet database is stored in."`
	LogDir     string `long:"logdir" description:"Directory log files are written to."`
	Network    string `long:"network" description:"Bitcoin network to run on." choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest"`
	NodeID     string `long:"nodeid" description:"Hex encoded identity key of the node whose state this daemon persists."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} or <subsystem>=<level> pairs separated by commas."`

	CheckpointInterval time.Duration `long:"checkpointinterval" description:"Interval between channel manager snapshots."`

	Remote  *RemoteConfig    `group:"remote" namespace:"remote"`
	Logging *build.LogConfig `group:"logging" namespace:"logging"`

	// netParams is resolved from Network during validation.
	netParams *chaincfg.Params
}

// defaultConfig returns the config with all defaults populated.
func defaultConfig() *Config {
	return &Config{
		DataDir:            defaultDataDir,
		LogDir:             defaultLogDir,
		Network:            "mainnet",
		DebugLevel:         "info",
		CheckpointInterval: defaultCheckpointInterval,
		Remote: &RemoteConfig{
			CheckInterval: defaultRemoteCheckInterval,
			CheckTimeout:  defaultRemoteCheckTimeout,
			CheckBackoff:  defaultRemoteCheckBackoff,
			CheckAttempts: defaultRemoteCheckAttempts,
		},
		Logging: build.DefaultLogConfig(),
	}
}

// loadConfig parses the command line into a validated Config.
func loadConfig() (*Config, error) {
	cfg := defaultConfig()
	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	switch cfg.Network {
	case "mainnet":
		cfg.netParams = &chaincfg.MainNetParams
	case "testnet":
		cfg.netParams = &chaincfg.TestNet3Params
	case "signet":
		cfg.netParams = &chaincfg.SigNetParams
	case "regtest":
		cfg.netParams = &chaincfg.RegressionNetParams
	default:
		return nil, fmt.Errorf("unknown network: %v", cfg.Network)
	}

	if cfg.NodeID == "" {
		return nil, fmt.Errorf("a node id is required")
	}

	if cfg.Remote.Endpoint != "" && cfg.Remote.StoreID == "" {
		return nil, fmt.Errorf("a store id is required when a " +
			"remote endpoint is configured")
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	return cfg, nil
}

// dbPath returns the location of the wallet database file.
func (c *Config) dbPath() string {
	return filepath.Join(c.DataDir, defaultDBFilename)
}

// logFilePath returns the location of the daemon's log file.
func (c *Config) logFilePath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
