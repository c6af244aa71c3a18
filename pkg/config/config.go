package config

import "os"

// Config holds process configuration. Every value defaults to the most
// restrictive setting: standby mode, network treated as enabled (which
// blocks sandbox work) until the environment attests otherwise.
type Config struct {
	Mode            string
	NetworkDisabled bool
	MockOnly        bool
	QuarantineRoot  string
	Subsystem       string
	LedgerDir       string
	PatternSetPath  string
	LogLevel        string
}

// Load reads configuration from environment variables.
func Load() *Config {
	mode := os.Getenv("WARDEN_MODE")
	if mode == "" {
		mode = "STANDBY"
	}

	root := os.Getenv("WARDEN_QUARANTINE_ROOT")
	if root == "" {
		root = "./quarantine"
	}

	subsystem := os.Getenv("WARDEN_SUBSYSTEM")
	if subsystem == "" {
		subsystem = "warden"
	}

	ledgerDir := os.Getenv("WARDEN_LEDGER_DIR")
	if ledgerDir == "" {
		ledgerDir = "./ledger"
	}

	logLevel := os.Getenv("WARDEN_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		Mode:            mode,
		NetworkDisabled: os.Getenv("WARDEN_NETWORK_DISABLED") == "true",
		MockOnly:        os.Getenv("WARDEN_MOCK_ONLY") == "true",
		QuarantineRoot:  root,
		Subsystem:       subsystem,
		LedgerDir:       ledgerDir,
		PatternSetPath:  os.Getenv("WARDEN_PATTERN_SET"),
		LogLevel:        logLevel,
	}
}
