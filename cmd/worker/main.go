package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/jobs"
	"github.com/drugboard/feedengine/utils"
	"github.com/drugboard/feedengine/utils/dotenv"
	"github.com/drugboard/feedengine/utils/flag"
	. "github.com/drugboard/feedengine/utils/log"
)

// The worker owns the shared-state maintenance jobs: stale feed eviction,
// hot feed warming and metric window cleanup. They only touch Redis and
// Postgres, so a single worker can serve any number of API replicas.
func main() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
	flag.ParseFlags()
	InitLogger()

	db, err := utils.GetDBConnection()
	if err != nil {
		Log.Fatalf("fail to connect database: %v", err)
	}

	redisCache, err := cache.GetCache()
	if err != nil {
		Log.Fatalf("fail to connect redis: %v", err)
	}

	store := feed.NewStore(db)
	mixer := feed.NewMixer(store, redisCache)
	scorer := feed.NewScorer(store)
	feeds := feed.NewService(store, redisCache, mixer, scorer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	engine := jobs.NewEngine([]jobs.Module{
		jobs.NewCacheCleanupModule(redisCache),
		jobs.NewFeedWarmingModule(redisCache, feeds),
		jobs.NewMetricsCleanupModule(redisCache),
	}, ctx, cancel)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		engine.Shutdown()
	}()

	Log.Info("feed worker starts up")
	engine.Run()
}
