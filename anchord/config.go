// Copyright (c) 2026 The AcademiaVeritas developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v2"
	flags "github.com/jessevdk/go-flags"

	v1 "github.com/academiaveritas/anchord/api/v1"
)

const (
	defaultConfigFilename = "anchord.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "anchord.log"

	defaultRPCTimeout   = 30 * time.Second
	defaultMaxAttempts  = 5
	defaultBackoffBase  = time.Second
	defaultBackoffCap   = time.Minute
	defaultPollInterval = 15 * time.Second
	defaultMaxRecordAge = 24 * time.Hour
	defaultGasLimit     = 100000
	defaultGasPriceGwei = 20
	signingKeyEnvName   = "ANCHORD_SIGNING_KEY"
	contractAddrExample = "0x0000000000000000000000000000000000000000"
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("anchord", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultHTTPSKey   = filepath.Join(defaultHomeDir, "https.key")
	defaultHTTPSCert  = filepath.Join(defaultHomeDir, "https.cert")
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)

	// regexpContract matches a 20 byte 0x prefixed hex contract address.
	regexpContract = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
)

// netParams ties a named network to its chain id and anchoring defaults.
type netParams struct {
	Name          string
	DefaultPort   string
	ChainID       uint64
	Confirmations int64
}

var (
	mainNetParams = netParams{
		Name:          "mainnet",
		DefaultPort:   v1.DefaultMainnetPort,
		ChainID:       1,
		Confirmations: 6,
	}
	testNetParams = netParams{
		Name:          "testnet",
		DefaultPort:   v1.DefaultTestnetPort,
		ChainID:       11155111, // Sepolia
		Confirmations: 1,
	}
	simNetParams = netParams{
		Name:          "simnet",
		DefaultPort:   "39172",
		ChainID:       1337,
		Confirmations: 1,
	}
)

// activeNetParams is the network anchord is currently running on.
var activeNetParams = &mainNetParams

// config defines the configuration options for anchord.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir     string `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	TestNet     bool   `long:"testnet" description:"Use the test network"`
	SimNet      bool   `long:"simnet" description:"Use the simulation network"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Listeners []string `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 49172, testnet: 59172)"`
	HTTPSCert string   `long:"httpscert" description:"File containing the https certificate file"`
	HTTPSKey  string   `long:"httpskey" description:"File containing the https certificate key"`

	RPCEndpoint   string        `long:"rpcendpoint" description:"JSON-RPC URL of the chain node"`
	WSEndpoint    string        `long:"wsendpoint" description:"Optional websocket URL of the chain node for new block notifications"`
	RPCCredential string        `long:"rpccredential" description:"Optional bearer token for the chain node"`
	RPCTimeout    time.Duration `long:"rpctimeout" description:"Per request chain node timeout"`

	SigningKey     string `long:"signingkey" description:"Hex encoded anchoring private key; the ANCHORD_SIGNING_KEY environment variable takes precedence"`
	AnchorContract string `long:"anchorcontract" description:"Anchor contract address (0x prefixed hex)"`
	ChainID        uint64 `long:"chainid" description:"Chain id for transaction replay protection (default: the active network's)"`
	GasPriceGwei   uint64 `long:"gasprice" description:"Gas price in gwei for anchoring transactions"`
	GasLimit       uint64 `long:"gaslimit" description:"Gas limit for anchoring transactions"`

	Confirmations int64         `long:"confirmations" description:"Blocks before an anchor is considered final (default: the active network's)"`
	MaxAttempts   int           `long:"maxattempts" description:"Transaction submission attempts before an anchor is failed"`
	BackoffBase   time.Duration `long:"backoffbase" description:"Initial delay between submission retries"`
	BackoffCap    time.Duration `long:"backoffcap" description:"Maximum delay between submission retries"`
	PollInterval  time.Duration `long:"pollinterval" description:"Receipt poll cadence for broadcast transactions"`
	MaxRecordAge  time.Duration `long:"maxrecordage" description:"Confirmed record age after which verification re-checks the chain (0 to disable)"`

	Version string
}

// serviceOptions defines the configuration options for the daemon as a service
// on Windows.
type serviceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	for i, addr := range addrs {
		addrs[i] = normalizeAddress(addr, defaultPort)
	}

	return removeDuplicateAddresses(addrs)
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// removeDuplicateAddresses returns a new slice with all duplicate entries in
// addrs removed.
func removeDuplicateAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, val := range addrs {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, so *serviceOptions, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", so)
	}
	return parser
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//	1) Start with a default config with sane settings
//	2) Pre-parse the command line to check for an alternative config file
//	3) Load configuration file overwriting defaults with any specified options
//	4) Parse CLI options and overwrite/add any specified options
//
// The above results in anchord functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:      defaultHomeDir,
		ConfigFile:   defaultConfigFile,
		DebugLevel:   defaultLogLevel,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		HTTPSKey:     defaultHTTPSKey,
		HTTPSCert:    defaultHTTPSCert,
		RPCTimeout:   defaultRPCTimeout,
		MaxAttempts:  defaultMaxAttempts,
		BackoffBase:  defaultBackoffBase,
		BackoffCap:   defaultBackoffCap,
		PollInterval: defaultPollInterval,
		MaxRecordAge: defaultMaxRecordAge,
		GasPriceGwei: defaultGasPriceGwei,
		GasLimit:     defaultGasLimit,
		Version:      version(),
	}

	// Service options which are only added on Windows.
	serviceOpts := serviceOptions{}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, &serviceOpts, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	// Update the home directory for anchord if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect
	// the new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir, _ = filepath.Abs(preCfg.HomeDir)

		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		} else {
			cfg.ConfigFile = preCfg.ConfigFile
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir,
				defaultDataDirname)
		} else {
			cfg.DataDir = preCfg.DataDir
		}
		if preCfg.HTTPSKey == defaultHTTPSKey {
			cfg.HTTPSKey = filepath.Join(cfg.HomeDir, "https.key")
		} else {
			cfg.HTTPSKey = preCfg.HTTPSKey
		}
		if preCfg.HTTPSCert == defaultHTTPSCert {
			cfg.HTTPSCert = filepath.Join(cfg.HomeDir, "https.cert")
		} else {
			cfg.HTTPSCert = preCfg.HTTPSCert
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir,
				defaultLogDirname)
		} else {
			cfg.LogDir = preCfg.LogDir
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, &serviceOpts, flags.Default)
	if fileExists(cfg.ConfigFile) {
		err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintf(os.Stderr, "Error parsing config "+
					"file: %v\n", err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
			configFileError = err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	activeNetParams = &mainNetParams
	if cfg.TestNet {
		numNets++
		activeNetParams = &testNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &simNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet and simnet params can't be used " +
			"together -- choose one of the two"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Network specific defaults.
	if cfg.ChainID == 0 {
		cfg.ChainID = activeNetParams.ChainID
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = activeNetParams.Confirmations
	}

	// Append the network type to the data and log directories so it is
	// "namespaced" per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, activeNetParams.Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNetParams.Name)
	cfg.HTTPSKey = cleanAndExpandPath(cfg.HTTPSKey)
	cfg.HTTPSCert = cleanAndExpandPath(cfg.HTTPSCert)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// The chain node endpoint is not optional.
	if cfg.RPCEndpoint == "" {
		err := fmt.Errorf("the rpcendpoint option is required")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// The anchor contract is not optional and must be a 20 byte 0x hex
	// address.
	if cfg.AnchorContract == "" {
		err := fmt.Errorf("the anchorcontract option is required")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if !regexpContract.MatchString(cfg.AnchorContract) {
		err := fmt.Errorf("invalid anchorcontract %q, expected an "+
			"address like %v", cfg.AnchorContract,
			contractAddrExample)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// The signing key is taken from the environment when set so that it
	// never has to live in a config file.  Its value is never logged.
	if key := os.Getenv(signingKeyEnvName); key != "" {
		cfg.SigningKey = key
	}
	if cfg.SigningKey == "" {
		err := fmt.Errorf("no signing key: set the signingkey option "+
			"or the %v environment variable", signingKeyEnvName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.MaxAttempts < 1 {
		err := fmt.Errorf("maxattempts must be at least 1")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.Confirmations < 1 {
		err := fmt.Errorf("confirmations must be at least 1")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Add the default listener if none were specified.  The default
	// listener is all addresses on the listen port for the network we are
	// to connect to.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{
			net.JoinHostPort("", activeNetParams.DefaultPort),
		}
	}

	// Add default port to all listener addresses if needed and remove
	// duplicate addresses.
	cfg.Listeners = normalizeAddresses(cfg.Listeners,
		activeNetParams.DefaultPort)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
