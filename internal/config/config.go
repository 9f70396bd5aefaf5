package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/application"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	alertsmanager "github.com/arkade-os/cat721-send/internal/infrastructure/alertsmanager"
	"github.com/arkade-os/cat721-send/internal/infrastructure/covenant/tapscript"
	"github.com/arkade-os/cat721-send/internal/infrastructure/db"
	"github.com/arkade-os/cat721-send/internal/infrastructure/esplora"
	blockscheduler "github.com/arkade-os/cat721-send/internal/infrastructure/scheduler/block"
	timescheduler "github.com/arkade-os/cat721-send/internal/infrastructure/scheduler/gocron"
	"github.com/arkade-os/cat721-send/internal/infrastructure/signer"
	"github.com/arkade-os/cat721-send/internal/infrastructure/tracker"
	txbuilder "github.com/arkade-os/cat721-send/internal/infrastructure/tx-builder/cat721"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

var (
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedWatchers = supportedType{
		"gocron": {},
		"block":  {},
	}
	supportedNetworks = map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	}
)

type Config struct {
	SourceFile   string
	CollectionId string
	TrackerHost  string
	FeeRate      uint64
	FeeWif       string

	Network              string
	EsploraURL           string
	Datadir              string
	DbType               string
	DbDir                string
	DbUrl                string
	LogLevel             int
	AlertManagerURL      string
	BulletVBytes         uint64
	WatcherType          string
	ConfirmationInterval time.Duration
	FeeAddressType       string

	network   *chaincfg.Params
	repo      ports.RepoManager
	tracker   ports.Tracker
	chain     *esplora.Service
	watcher   ports.ConfirmationWatcher
	covenant  ports.CovenantEngine
	txBuilder ports.TxBuilder
	feeSigner ports.Signer
	alerts    ports.Alerts
	svc       application.Service
}

func (c *Config) String() string {
	clone := *c
	if clone.FeeWif != "" {
		clone.FeeWif = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir              = btcutil.AppDataDir("cat721-send", false)
	defaultFeeRate              = uint64(1)
	defaultNetwork              = "mainnet"
	defaultEsploraURL           = "https://mempool.fractalbitcoin.io/api"
	defaultDbType               = "badger"
	defaultLogLevel             = 4
	defaultBulletVBytes         = uint64(application.DefaultBulletVBytes)
	defaultWatcherType          = "gocron"
	defaultConfirmationInterval = timescheduler.DefaultInterval
	defaultFeeAddressType       = string(signer.AddressTaproot)
)

var (
	SourceFile = &cli.StringFlag{
		Usage:   "Path of the file listing the nfts to transfer",
		Name:    "source-file",
		Aliases: []string{"s"},
		EnvVars: []string{"SOURCE_FILE"},
	}

	CollectionId = &cli.StringFlag{
		Usage:   "Id of the nft collection",
		Name:    "collection-id",
		Aliases: []string{"c"},
		EnvVars: []string{"COLLECTION_ID"},
	}

	TrackerHost = &cli.StringFlag{
		Usage:   "Tracker host, e.g. http://127.0.0.1:3000",
		Name:    "tracker-host",
		Aliases: []string{"t"},
		EnvVars: []string{"TRACKER_HOST"},
	}

	FeeRate = &cli.Uint64Flag{
		Usage:   "Fee rate in sat/vB used for the transfers",
		Name:    "fee-rate",
		Aliases: []string{"f"},
		EnvVars: []string{"FEE_RATE"},
		Value:   defaultFeeRate,
	}

	FeeWif = &cli.StringFlag{
		Usage:   "WIF of the key paying the transfer fees",
		Name:    "fee-wif",
		Aliases: []string{"w"},
		EnvVars: []string{"FEE_WIF"},
	}

	Network = &cli.StringFlag{
		Usage:   "Bitcoin network (mainnet, testnet, signet, regtest)",
		Name:    "network",
		EnvVars: []string{"NETWORK"},
		Value:   defaultNetwork,
	}

	EsploraURL = &cli.StringFlag{
		Usage:   "Esplora API url used to fetch utxos and txs and to broadcast",
		Name:    "esplora-url",
		EnvVars: []string{"ESPLORA_URL"},
		Value:   defaultEsploraURL,
	}

	Datadir = &cli.StringFlag{
		Usage:   "Directory to store data",
		Name:    "datadir",
		EnvVars: []string{"DATADIR"},
		Value:   defaultDatadir,
	}

	DbType = &cli.StringFlag{
		Usage:   "Transfer journal database type (badger, sqlite, postgres)",
		Name:    "db-type",
		EnvVars: []string{"DB_TYPE"},
		Value:   defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage:   "Postgres connection url if the db type is set to postgres",
		Name:    "db-url",
		EnvVars: []string{"DB_URL"},
	}

	LogLevel = &cli.IntFlag{
		Usage:   "Logging level (0-6, where 6 is trace)",
		Name:    "log-level",
		EnvVars: []string{"LOG_LEVEL"},
		Value:   defaultLogLevel,
	}

	AlertManagerURL = &cli.StringFlag{
		Usage:   "Alertmanager url to notify of stranded guards and batch outcomes",
		Name:    "alert-manager-url",
		EnvVars: []string{"ALERT_MANAGER_URL"},
	}

	BulletVBytes = &cli.Uint64Flag{
		Usage:   "Vbytes paid by each fee bullet, the bullet value is this times the fee rate",
		Name:    "bullet-vbytes",
		EnvVars: []string{"BULLET_VBYTES"},
		Value:   defaultBulletVBytes,
	}

	WatcherType = &cli.StringFlag{
		Usage:   "Confirmation watcher type (gocron, block)",
		Name:    "watcher-type",
		EnvVars: []string{"WATCHER_TYPE"},
		Value:   defaultWatcherType,
	}

	ConfirmationInterval = &cli.DurationFlag{
		Usage:   "How often the split tx confirmation is polled",
		Name:    "confirmation-interval",
		EnvVars: []string{"CONFIRMATION_INTERVAL"},
		Value:   defaultConfirmationInterval,
	}

	FeeAddressType = &cli.StringFlag{
		Usage:   "Address type of the fee payer (p2tr, p2wpkh)",
		Name:    "fee-address-type",
		EnvVars: []string{"FEE_ADDRESS_TYPE"},
		Value:   defaultFeeAddressType,
	}
)

var Flags = []cli.Flag{
	SourceFile,
	CollectionId,
	TrackerHost,
	FeeRate,
	FeeWif,
	Network,
	EsploraURL,
	Datadir,
	DbType,
	DbUrl,
	LogLevel,
	AlertManagerURL,
	BulletVBytes,
	WatcherType,
	ConfirmationInterval,
	FeeAddressType,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	datadir := stringValue(c, Datadir)
	if err := makeDirectoryIfNotExists(datadir); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbType := stringValue(c, DbType)
	var dbUrl string
	if dbType == "postgres" {
		dbUrl = stringValue(c, DbUrl)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	return &Config{
		SourceFile:           stringValue(c, SourceFile),
		CollectionId:         stringValue(c, CollectionId),
		TrackerHost:          stringValue(c, TrackerHost),
		FeeRate:              uint64Value(c, FeeRate),
		FeeWif:               stringValue(c, FeeWif),
		Network:              stringValue(c, Network),
		EsploraURL:           stringValue(c, EsploraURL),
		Datadir:              datadir,
		DbType:               dbType,
		DbDir:                filepath.Join(datadir, "db"),
		DbUrl:                dbUrl,
		LogLevel:             intValue(c, LogLevel),
		AlertManagerURL:      stringValue(c, AlertManagerURL),
		BulletVBytes:         uint64Value(c, BulletVBytes),
		WatcherType:          stringValue(c, WatcherType),
		ConfirmationInterval: durationValue(c, ConfirmationInterval),
		FeeAddressType:       stringValue(c, FeeAddressType),
	}, nil
}

func (c *Config) Validate() error {
	if c.SourceFile == "" {
		return fmt.Errorf("missing source file")
	}
	if c.CollectionId == "" {
		return fmt.Errorf("missing collection id")
	}
	if c.TrackerHost == "" {
		return fmt.Errorf("missing tracker host")
	}
	if c.FeeWif == "" {
		return fmt.Errorf("missing fee wif")
	}
	if c.FeeRate == 0 {
		return fmt.Errorf("fee rate must be greater than 0")
	}
	if c.BulletVBytes == 0 {
		return fmt.Errorf("bullet vbytes must be greater than 0")
	}
	if c.EsploraURL == "" {
		return fmt.Errorf("missing esplora url")
	}
	network, ok := supportedNetworks[c.Network]
	if !ok {
		return fmt.Errorf(
			"network not supported, please select one of: %s", supportedNetworksString(),
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedWatchers.supports(c.WatcherType) {
		return fmt.Errorf(
			"watcher type not supported, please select one of: %s", supportedWatchers,
		)
	}
	if !signer.AddressType(c.FeeAddressType).IsSupported() {
		return fmt.Errorf(
			"fee address type not supported, please select one of: %v",
			signer.SupportedAddressTypes,
		)
	}
	if c.ConfirmationInterval <= 0 {
		return fmt.Errorf("confirmation interval must be greater than 0")
	}
	if c.LogLevel < 0 || c.LogLevel > int(log.TraceLevel) {
		return fmt.Errorf("log level must be in range [0, %d]", log.TraceLevel)
	}

	c.network = network
	if err := signer.Init(c.network); err != nil {
		return fmt.Errorf("failed to init crypto for network %s: %s", c.Network, err)
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.watcherService(); err != nil {
		return err
	}
	if err := c.txBuilderService(); err != nil {
		return err
	}
	if err := c.feeSignerService(); err != nil {
		return err
	}
	c.trackerService()
	c.alertsService()
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()
	logger.SetLevel(log.Level(c.LogLevel))

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) chainService() error {
	svc, err := esplora.New(c.EsploraURL, c.network)
	if err != nil {
		return err
	}
	c.chain = svc
	return nil
}

func (c *Config) watcherService() error {
	var svc ports.ConfirmationWatcher
	var err error
	switch c.WatcherType {
	case "gocron":
		svc = timescheduler.NewConfirmationWatcher(c.chain, c.ConfirmationInterval)
	case "block":
		svc, err = blockscheduler.NewConfirmationWatcher(
			c.chain, blockscheduler.WithTickerInterval(c.ConfirmationInterval),
		)
	default:
		err = fmt.Errorf("unknown watcher type")
	}
	if err != nil {
		return err
	}

	c.watcher = svc
	return nil
}

func (c *Config) txBuilderService() error {
	c.covenant = tapscript.NewEngine(c.network)
	c.txBuilder = txbuilder.NewTxBuilder(c.covenant, c.network)
	return nil
}

func (c *Config) feeSignerService() error {
	svc, err := signer.NewWifSigner(c.FeeWif, c.network, signer.AddressType(c.FeeAddressType))
	if err != nil {
		return fmt.Errorf("invalid fee wif: %s", err)
	}
	c.feeSigner = svc
	return nil
}

func (c *Config) trackerService() {
	c.tracker = tracker.New(c.TrackerHost)
}

func (c *Config) alertsService() {
	if c.AlertManagerURL == "" {
		return
	}
	c.alerts = alertsmanager.NewService(c.AlertManagerURL, c.EsploraURL)
}

func (c *Config) appService() error {
	if c.network == nil {
		return fmt.Errorf("config not validated")
	}

	svc, err := application.NewService(
		application.Config{
			CollectionId: c.CollectionId,
			SourceFile:   c.SourceFile,
			FeeRate:      c.FeeRate,
			BulletVBytes: c.BulletVBytes,
			Network:      c.network,
			Reporter:     os.Stdout,
		},
		c.tracker, c.chain, c.chain, c.watcher, c.txBuilder, c.covenant,
		c.feeSigner, signer.NewFactory(c.network), c.repo, c.alerts,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

// The helpers below read a flag and, when neither the flag nor its env var
// is set, fall back to the CAT721_ prefixed env var bound through viper.

func stringValue(c *cli.Context, flag *cli.StringFlag) string {
	if !c.IsSet(flag.Name) && viper.IsSet(flag.Name) {
		return viper.GetString(flag.Name)
	}
	return c.String(flag.Name)
}

func uint64Value(c *cli.Context, flag *cli.Uint64Flag) uint64 {
	if !c.IsSet(flag.Name) && viper.IsSet(flag.Name) {
		return viper.GetUint64(flag.Name)
	}
	return c.Uint64(flag.Name)
}

func intValue(c *cli.Context, flag *cli.IntFlag) int {
	if !c.IsSet(flag.Name) && viper.IsSet(flag.Name) {
		return viper.GetInt(flag.Name)
	}
	return c.Int(flag.Name)
}

func durationValue(c *cli.Context, flag *cli.DurationFlag) time.Duration {
	if !c.IsSet(flag.Name) && viper.IsSet(flag.Name) {
		return viper.GetDuration(flag.Name)
	}
	return c.Duration(flag.Name)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func supportedNetworksString() string {
	networks := make(supportedType, len(supportedNetworks))
	for name := range supportedNetworks {
		networks[name] = struct{}{}
	}
	return networks.String()
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
