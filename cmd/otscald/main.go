// Command otscald runs the calendar server: the Aggregator,
// Stamper, and client-facing HTTP surface, wired together over one
// on-disk Calendar.
//
// Grounded on cmd/utils' App/flag wiring conventions (gopkg.in/urfave/cli.v1).
package main

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/klaytn/ots-calendar/calendar"
	"github.com/klaytn/ots-calendar/calendar/aggregator"
	"github.com/klaytn/ots-calendar/calendar/backup"
	"github.com/klaytn/ots-calendar/calendar/config"
	"github.com/klaytn/ots-calendar/calendar/httpapi"
	"github.com/klaytn/ots-calendar/calendar/stamper"
	"github.com/klaytn/ots-calendar/calendar/stamper/btcrpc"
	"github.com/klaytn/ots-calendar/cmd/utils"
	calendarlog "github.com/klaytn/ots-calendar/log"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Calendar)

func main() {
	app := cli.NewApp()
	app.Name = "otscald"
	app.Usage = "OpenTimestamps calendar server"
	app.Flags = []cli.Flag{
		DataDirFlag, ConfigFileFlag, URIFlag, DbTypeFlag,
		CommitmentIntervalFlag, MinConfirmationsFlag, MaxPendingFlag, MinTxIntervalFlag,
		RelayFeerateFlag, MaxFeeSatoshisFlag,
		BitcoinRPCHostFlag, BitcoinRPCUserFlag, BitcoinRPCPassFlag, BitcoinRPCTimeoutFlag,
		HTTPListenAddrFlag, BackupPagingFlag, BackupCacheDirFlag, MetricsListenAddrFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		utils.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.DefaultConfig
	if path := ctx.GlobalString(ConfigFileFlag.Name); path != "" {
		loaded, err := config.LoadTOML(path)
		if err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
		cfg = loaded
	}
	applyFlags(ctx, &cfg)

	cal, err := calendar.Open(cfg.DataDir, cfg.URI, cfg.DBType)
	if err != nil {
		utils.Fatalf("opening calendar: %v", err)
	}
	defer cal.Close()

	agg := aggregator.New(cal, cfg.CommitmentInterval)
	agg.Start()

	rpc := btcrpc.New(cfg.BitcoinRPCHost, cfg.BitcoinRPCUser, cfg.BitcoinRPCPass, cfg.BitcoinRPCTimeout)
	stamperCfg := stamper.Config{
		MinConfirmations: cfg.MinConfirmations,
		MaxPending:       cfg.MaxPending,
		MinTxInterval:    cfg.MinTxInterval,
		RelayFeerate:     cfg.RelayFeerate,
		MaxFeeSatoshis:   cfg.MaxFeeSatoshis,
	}
	stmp := stamper.New(stamperCfg, rpc, cal.Reader, cal.Store, cfg.KnownGoodPath())
	stmp.Start()

	producer := backup.New(cal.Reader, cal.Store, cfg.BackupCacheDirOrDefault())

	srv := &httpapi.Server{
		Aggregator:       agg,
		Store:            cal.Store,
		Stamper:          stmp,
		Backup:           producer,
		MinConfirmations: cfg.MinConfirmations,
	}

	httpSrv := &http.Server{Addr: cfg.HTTPListenAddr, Handler: srv.Handler()}
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTPListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP API stopped", "err", err)
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: calendar.MetricsHandler()}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsListenAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	utils.WaitForShutdown(agg, stmp)
	return nil
}
