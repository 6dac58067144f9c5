package main

import (
	"context"

	"github.com/drugboard/feedengine/analytics"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/event"
	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/jobs"
	"github.com/drugboard/feedengine/position"
	"github.com/drugboard/feedengine/prefetch"
	"github.com/drugboard/feedengine/server"
	"github.com/drugboard/feedengine/utils"
	"github.com/drugboard/feedengine/utils/dotenv"
	"github.com/drugboard/feedengine/utils/flag"
	. "github.com/drugboard/feedengine/utils/log"
	"github.com/drugboard/feedengine/viewstate"
)

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
	utils.DatabaseSetupAndMigration(db)

	redisCache, err := cache.GetCache()
	if err != nil {
		Log.Fatalf("fail to connect redis: %v", err)
	}

	bus := event.NewBus()
	producer := event.NewProducer(bus)

	store := feed.NewStore(db)
	mixer := feed.NewMixer(store, redisCache)
	scorer := feed.NewScorer(store)
	viewStates := viewstate.NewService(db, redisCache)
	feeds := feed.NewService(store, redisCache, mixer, scorer, viewStates)
	strategist := feed.NewStrategist(store, redisCache, producer, feeds)

	collector := analytics.NewRedisCollector(redisCache)
	analyticsService := analytics.NewService(collector, store, redisCache)
	optimizer := analytics.NewOptimizer(analyticsService)
	monitor := analytics.NewMonitor(collector, redisCache)

	// The bus is in-process, so the consumer runs next to the API under
	// the jobs engine and shares its shutdown lifecycle.
	consumer := event.NewConsumer("feedengine", bus)
	strategist.RegisterHandlers(consumer)

	ctx, cancel := context.WithCancel(context.Background())
	engine := jobs.NewEngine([]jobs.Module{
		jobs.NewConsumerModule(consumer),
	}, ctx, cancel)
	defer engine.Shutdown()
	defer bus.Close()
	go engine.Run()

	handlers := &server.Handlers{
		Feeds:      feeds,
		Strategist: strategist,
		ViewStates: viewStates,
		Prefetch:   prefetch.NewService(redisCache, feeds),
		Positions:  position.NewService(redisCache, feeds),
		Analytics:  analyticsService,
		Optimizer:  optimizer,
		Monitor:    monitor,
		Producer:   producer,
	}

	Log.Info("api server starts up")
	router := server.NewRouter(handlers)
	if err := router.Run(":8080"); err != nil {
		Log.Fatalf("api server exited: %v", err)
	}
}
