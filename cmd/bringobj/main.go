// Command bringobj runs bring-object episodes against a simulator, stores
// their metrics and step traces in SQLite, and optionally serves the admin
// debug UI or a kinematic simulator for remote clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kschmeckpeper/manipulathor/internal/config"
	"github.com/kschmeckpeper/manipulathor/internal/db"
	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/noise"
	"github.com/kschmeckpeper/manipulathor/internal/task"
	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
	"github.com/kschmeckpeper/manipulathor/internal/version"
)

var (
	configPath  = flag.String("config", "", "Task config JSON (defaults to built-in values)")
	simKind     = flag.String("sim", "kinematic", "Simulator backend: kinematic, grpc or http")
	simAddr     = flag.String("addr", "", "gRPC simulator address (with -sim grpc), or listen address with -serve")
	simURL      = flag.String("url", "", "HTTP simulator base URL, e.g. http://host:8090/sim/ (with -sim http)")
	tasksPath   = flag.String("tasks", "", "JSONL episode file (defaults to the kinematic demo episode)")
	policyName  = flag.String("policy", "random", "Policy: random or scripted")
	script      = flag.String("script", "PickUpMidLevel,DoneMidLevel", "Comma-separated actions for -policy scripted")
	seed        = flag.Uint64("seed", 1, "Seed for -policy random")
	numEpisodes = flag.Int("episodes", 1, "Number of episodes to run")
	dbPath      = flag.String("db", "bringobj.db", "SQLite results database (empty disables)")
	plotDir     = flag.String("plot-dir", "", "Write trajectory and reward PNGs here")
	adminListen = flag.String("admin-listen", "", "Serve /debug/ admin routes on this address and keep running")
	serve       = flag.String("serve", "", "Serve the kinematic simulator over grpc or http on -addr instead of running episodes")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// demoEpisode brings the apple to the bowl in the kinematic demo kitchen.
var demoEpisode = task.Info{
	SceneName:      "FloorPlan1_physics",
	SourceObjectID: "Apple|+01.00|+00.95|+01.00",
	GoalObjectID:   "Bowl|-01.00|+00.95|+01.00",
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "bringobj.db", "SQLite results database")
		if err := fs.Parse(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serve != "" {
		if *simAddr == "" {
			log.Fatal("-serve needs -addr")
		}
		if err := serveKinematic(ctx, *serve, *simAddr); err != nil {
			log.Fatalf("simulator server: %v", err)
		}
		return
	}

	cfg := config.EmptyTaskConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadTaskConfig(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	infos := []task.Info{demoEpisode}
	if *tasksPath != "" {
		f, err := os.Open(*tasksPath)
		if err != nil {
			log.Fatalf("open tasks: %v", err)
		}
		infos, err = task.LoadEpisodes(f)
		f.Close()
		if err != nil {
			log.Fatalf("load tasks: %v", err)
		}
	}

	factory, cleanup, err := simFactory(*simKind, *simAddr, *simURL)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	model, err := noise.New(cfg.Noise())
	if err != nil {
		log.Fatalf("motion noise: %v", err)
	}
	e, err := env.New(ctx, factory, model, cfg.Env())
	if err != nil {
		log.Fatalf("start environment: %v", err)
	}
	defer func() {
		if err := e.Stop(); err != nil {
			log.Printf("stop simulator: %v", err)
		}
	}()

	pol, err := newPolicy(*policyName, cfg.GetActionSet(), *seed, *script)
	if err != nil {
		log.Fatal(err)
	}

	r := &runner{
		cfg:        cfg,
		env:        e,
		policy:     pol,
		policyName: *policyName,
		plotDir:    *plotDir,
		clock:      timeutil.RealClock{},
	}

	var database *db.DB
	if *dbPath != "" {
		if database, err = db.NewDB(*dbPath); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		r.episodes = db.NewEpisodeStore(database)
		r.steps = db.NewStepStore(database)
	}

	var wg sync.WaitGroup
	if *adminListen != "" {
		if database == nil {
			log.Fatal("-admin-listen needs -db")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveAdmin(ctx, database, *adminListen); err != nil {
				log.Printf("admin server: %v", err)
				stop()
			}
		}()
	}

	eps, err := r.runAll(ctx, infos, *numEpisodes)
	if err != nil {
		log.Printf("run stopped: %v", err)
	}
	successes := 0
	for _, ep := range eps {
		if ep.Success {
			successes++
		}
	}
	log.Printf("%d episode(s), %d successful", len(eps), successes)

	if *adminListen != "" {
		log.Printf("admin routes on http://%s/debug/ (Ctrl-C to exit)", *adminListen)
	}
	wg.Wait()
}

func serveAdmin(ctx context.Context, database *db.DB, addr string) error {
	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down admin server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
