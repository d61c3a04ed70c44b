package main

import (
	"gopkg.in/urfave/cli.v1"

	"github.com/klaytn/ots-calendar/calendar/config"
)

var (
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the journal, calendar store, and checkpoints",
		Value: config.DefaultConfig.DataDir,
	}
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file overriding the defaults",
	}
	URIFlag = cli.StringFlag{
		Name:  "uri",
		Usage: "This calendar's own URI, embedded in every Pending attestation (required on first run)",
	}
	DbTypeFlag = cli.StringFlag{
		Name:  "dbtype",
		Usage: `Calendar store database type ("leveldb", "badger")`,
		Value: config.DefaultConfig.DBType,
	}
	CommitmentIntervalFlag = cli.DurationFlag{
		Name:  "commitment.interval",
		Usage: "Aggregator batching interval",
		Value: config.DefaultConfig.CommitmentInterval,
	}
	MinConfirmationsFlag = cli.Uint64Flag{
		Name:  "bitcoin.minconfirmations",
		Usage: "Bitcoin confirmations required before a commitment is buried",
		Value: config.DefaultConfig.MinConfirmations,
	}
	MaxPendingFlag = cli.IntFlag{
		Name:  "stamper.maxpending",
		Usage: "Maximum commitments the stamper keeps pending in memory at once",
		Value: config.DefaultConfig.MaxPending,
	}
	MinTxIntervalFlag = cli.DurationFlag{
		Name:  "stamper.mintxinterval",
		Usage: "Minimum (randomised) interval between timestamp transactions",
		Value: config.DefaultConfig.MinTxInterval,
	}
	RelayFeerateFlag = cli.Int64Flag{
		Name:  "bitcoin.relayfeerate",
		Usage: "Starting feerate (satoshi/byte) for a new timestamp transaction",
		Value: config.DefaultConfig.RelayFeerate,
	}
	MaxFeeSatoshisFlag = cli.Int64Flag{
		Name:  "bitcoin.maxfeesatoshis",
		Usage: "Maximum total fee (satoshi) a timestamp transaction may pay before the stamper aborts",
		Value: config.DefaultConfig.MaxFeeSatoshis,
	}
	BitcoinRPCHostFlag = cli.StringFlag{
		Name:  "bitcoin.rpchost",
		Usage: "bitcoind JSON-RPC host:port",
		Value: config.DefaultConfig.BitcoinRPCHost,
	}
	BitcoinRPCUserFlag = cli.StringFlag{
		Name:  "bitcoin.rpcuser",
		Usage: "bitcoind JSON-RPC username",
	}
	BitcoinRPCPassFlag = cli.StringFlag{
		Name:  "bitcoin.rpcpass",
		Usage: "bitcoind JSON-RPC password",
	}
	BitcoinRPCTimeoutFlag = cli.DurationFlag{
		Name:  "bitcoin.rpctimeout",
		Usage: "bitcoind JSON-RPC call timeout",
		Value: config.DefaultConfig.BitcoinRPCTimeout,
	}
	HTTPListenAddrFlag = cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address for the client-facing calendar API",
		Value: config.DefaultConfig.HTTPListenAddr,
	}
	BackupPagingFlag = cli.Uint64Flag{
		Name:  "backup.paging",
		Usage: "Journal entries per backup chunk (not read by the backup producer, whose chunks always cover 1000 entries)",
		Value: config.DefaultConfig.BackupPaging,
	}
	BackupCacheDirFlag = cli.StringFlag{
		Name:  "backup.cachedir",
		Usage: "Directory for cached backup chunks (default datadir/backup_cache)",
	}
	MetricsListenAddrFlag = cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Prometheus metrics listen address",
		Value: config.DefaultConfig.MetricsListenAddr,
	}
)

// applyFlags overlays any explicitly-set CLI flags onto cfg, following
// cmd/utils/flags.go's SetXxxConfig pattern of "only override what the
// user actually passed".
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.GlobalIsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(DataDirFlag.Name)
	}
	if ctx.GlobalIsSet(URIFlag.Name) {
		cfg.URI = ctx.GlobalString(URIFlag.Name)
	}
	if ctx.GlobalIsSet(DbTypeFlag.Name) {
		cfg.DBType = ctx.GlobalString(DbTypeFlag.Name)
	}
	if ctx.GlobalIsSet(CommitmentIntervalFlag.Name) {
		cfg.CommitmentInterval = ctx.GlobalDuration(CommitmentIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(MinConfirmationsFlag.Name) {
		cfg.MinConfirmations = ctx.GlobalUint64(MinConfirmationsFlag.Name)
	}
	if ctx.GlobalIsSet(MaxPendingFlag.Name) {
		cfg.MaxPending = ctx.GlobalInt(MaxPendingFlag.Name)
	}
	if ctx.GlobalIsSet(MinTxIntervalFlag.Name) {
		cfg.MinTxInterval = ctx.GlobalDuration(MinTxIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(RelayFeerateFlag.Name) {
		cfg.RelayFeerate = ctx.GlobalInt64(RelayFeerateFlag.Name)
	}
	if ctx.GlobalIsSet(MaxFeeSatoshisFlag.Name) {
		cfg.MaxFeeSatoshis = ctx.GlobalInt64(MaxFeeSatoshisFlag.Name)
	}
	if ctx.GlobalIsSet(BitcoinRPCHostFlag.Name) {
		cfg.BitcoinRPCHost = ctx.GlobalString(BitcoinRPCHostFlag.Name)
	}
	if ctx.GlobalIsSet(BitcoinRPCUserFlag.Name) {
		cfg.BitcoinRPCUser = ctx.GlobalString(BitcoinRPCUserFlag.Name)
	}
	if ctx.GlobalIsSet(BitcoinRPCPassFlag.Name) {
		cfg.BitcoinRPCPass = ctx.GlobalString(BitcoinRPCPassFlag.Name)
	}
	if ctx.GlobalIsSet(BitcoinRPCTimeoutFlag.Name) {
		cfg.BitcoinRPCTimeout = ctx.GlobalDuration(BitcoinRPCTimeoutFlag.Name)
	}
	if ctx.GlobalIsSet(HTTPListenAddrFlag.Name) {
		cfg.HTTPListenAddr = ctx.GlobalString(HTTPListenAddrFlag.Name)
	}
	if ctx.GlobalIsSet(BackupPagingFlag.Name) {
		cfg.BackupPaging = ctx.GlobalUint64(BackupPagingFlag.Name)
	}
	if ctx.GlobalIsSet(BackupCacheDirFlag.Name) {
		cfg.BackupCacheDir = ctx.GlobalString(BackupCacheDirFlag.Name)
	}
	if ctx.GlobalIsSet(MetricsListenAddrFlag.Name) {
		cfg.MetricsListenAddr = ctx.GlobalString(MetricsListenAddrFlag.Name)
	}
}
