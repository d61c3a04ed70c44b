// Command otscal-backup mirrors one upstream calendar's
// "/experimental/backup/{N}" chunk sequence into a local CalendarStore (no
// local journal is written), the otsd-backup.py-equivalent external
// collaborator of a calendar's backup producer.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/klaytn/ots-calendar/calendar/backup"
	"github.com/klaytn/ots-calendar/calendar/config"
	"github.com/klaytn/ots-calendar/calendar/store"
	"github.com/klaytn/ots-calendar/cmd/utils"
	calendarlog "github.com/klaytn/ots-calendar/log"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Backup)

var (
	UpstreamFlag = cli.StringFlag{
		Name:  "upstream",
		Usage: "Base URL of the calendar to mirror, e.g. https://alice.btc.calendar.opentimestamps.org",
	}
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the mirrored calendar store",
		Value: config.DefaultConfig.DataDir,
	}
	DbTypeFlag = cli.StringFlag{
		Name:  "dbtype",
		Usage: `Calendar store database type ("leveldb", "badger")`,
		Value: config.DefaultConfig.DBType,
	}
	StartChunkFlag = cli.Uint64Flag{
		Name:  "start",
		Usage: "First chunk index to fetch",
	}
	PollIntervalFlag = cli.DurationFlag{
		Name:  "poll",
		Usage: "How often to retry when the upstream's next chunk isn't ready yet",
		Value: 30 * time.Second,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "otscal-backup"
	app.Usage = "Mirror a remote OpenTimestamps calendar's backup chunk stream"
	app.Flags = []cli.Flag{UpstreamFlag, DataDirFlag, DbTypeFlag, StartChunkFlag, PollIntervalFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		utils.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	upstream := ctx.GlobalString(UpstreamFlag.Name)
	if upstream == "" {
		utils.Fatalf("--upstream is required")
	}

	st, err := store.OpenStore(ctx.GlobalString(DbTypeFlag.Name), ctx.GlobalString(DataDirFlag.Name)+"/db")
	if err != nil {
		utils.Fatalf("opening calendar store: %v", err)
	}
	defer st.Close()

	mirror := backup.NewMirror(upstream, 30*time.Second)
	mirror.Sink = func(chunk uint64, records map[string][]byte) error {
		timestamps, err := backup.ResolveChunk(records)
		if err != nil {
			return err
		}
		return st.AddMany(timestamps)
	}

	quit := make(chan struct{})
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("got interrupt, stopping mirror")
		close(quit)
	}()

	mirror.Run(quit, ctx.GlobalUint64(StartChunkFlag.Name), ctx.GlobalDuration(PollIntervalFlag.Name))
	return nil
}
