package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"ultramatch/src/engine"
	"ultramatch/src/handlers"
	"ultramatch/src/logger"
	"ultramatch/src/marketdata"
	"ultramatch/src/metrics"
	"ultramatch/src/routes"
	"ultramatch/src/server"
	"ultramatch/src/sink"
	"ultramatch/src/stream"
)

func main() {
	var (
		port          = flag.Int("port", engine.DefaultPort, "TCP ingress port")
		adminPort     = flag.Int("admin-port", 8082, "HTTP admin API port")
		streamPort    = flag.Int("stream-port", 8081, "WebSocket stream port")
		threads       = flag.Int("threads", engine.DefaultMatchingWorkers, "matching worker count")
		marketThreads = flag.Int("market-threads", engine.DefaultMarketDataWorkers, "market data worker count")
		bufferSize    = flag.Uint64("buffer-size", engine.DefaultRingSize, "ring queue capacity (power of two)")
		verbose       = flag.Bool("verbose", false, "log individual order rejections")
		noPerformance = flag.Bool("no-performance", false, "disable the performance monitor")
		simulateOnly  = flag.Bool("simulate-only", false, "skip the TCP ingress and drive the engine from the simulated feed")
		kafkaBrokers  = flag.String("kafka-brokers", "", "comma-separated Kafka brokers; empty disables the Kafka sink")
		kafkaTopic    = flag.String("kafka-topic", "ultramatch.events", "Kafka topic for execution events")
		reportPath    = flag.String("report", "", "base path for the shutdown performance report; empty disables it")
		reportFormat  = flag.String("report-format", metrics.FormatBoth, "report format: csv, json or both")
	)
	flag.Parse()

	logger.InitLogger()
	defer logger.CloseLogger()
	log := logger.GetLogger()

	log.Info().Msg("Initializing ultramatch")

	cfg := engine.DefaultConfig()
	cfg.MatchingWorkers = *threads
	cfg.MarketDataWorkers = *marketThreads
	cfg.RingSize = *bufferSize
	cfg.Port = *port
	cfg.EnableMetrics = !*noPerformance
	cfg.Verbose = *verbose
	cfg.SimulationMode = *simulateOnly

	streamServer := stream.NewStreamServer(*streamPort)
	sinks := []engine.EventSink{streamServer}

	var kafkaSink *sink.KafkaSink
	if *kafkaBrokers != "" {
		kafkaSink = sink.NewKafkaSink(strings.Split(*kafkaBrokers, ","), *kafkaTopic)
		sinks = append(sinks, kafkaSink)
	}

	eng, err := engine.New(cfg, sinks...)
	if err != nil {
		log.Fatal().Err(err).Msg("Engine construction failed")
	}

	if kafkaSink != nil {
		if err := kafkaSink.Start(); err != nil {
			log.Fatal().Err(err).Msg("Kafka sink failed to start")
		}
	}
	if err := streamServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Stream server failed to start")
	}
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Engine failed to start")
	}

	var monitor *metrics.Monitor
	if !*noPerformance {
		monitor = metrics.NewMonitor(eng.Metrics(), metrics.DefaultSampleInterval)
		_ = monitor.Start()
	}

	feed, err := marketdata.NewFeed(marketdata.DefaultFeedConfig(), eng.SubmitMarketData)
	if err != nil {
		log.Fatal().Err(err).Msg("Feed construction failed")
	}
	if err := feed.Start(); err != nil {
		log.Fatal().Err(err).Msg("Feed failed to start")
	}

	var tcpServer *server.Server
	var orderGenStop chan struct{}
	var orderGenWG sync.WaitGroup
	if *simulateOnly {
		log.Info().Msg("Simulation mode: TCP ingress disabled, generating random orders")
		orderGenStop = make(chan struct{})
		orderGenWG.Add(1)
		go func() {
			defer orderGenWG.Done()
			generateOrders(eng, orderGenStop)
		}()
	} else {
		tcpServer = server.New(eng, *port)
		if err := tcpServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("TCP ingress failed to start")
		}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})
	app.Use(recover.New())
	routes.SetupRoutes(app, handlers.NewOrderHandler(eng))

	adminAddr := fmt.Sprintf(":%d", *adminPort)
	serverError := make(chan error, 1)
	go func() {
		if err := app.Listen(adminAddr); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			if err.Error() != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	select {
	case err := <-serverError:
		log.Fatal().
			Err(err).
			Str("addr", adminAddr).
			Msg("Admin server failed to start")
	default:
		log.Info().
			Int("ingress_port", *port).
			Int("admin_port", *adminPort).
			Int("stream_port", *streamPort).
			Int("matching_workers", *threads).
			Msg("ultramatch started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-quit:
		log.Info().Msg("Received shutdown signal, shutting down...")
	case err := <-serverError:
		log.Error().Err(err).Msg("Admin server failed, shutting down...")
	}

	// shutdown ordering: ingress first so nothing new arrives, then the
	// engine drains, then the sinks flush
	if tcpServer != nil {
		tcpServer.Stop()
	}
	if orderGenStop != nil {
		close(orderGenStop)
		orderGenWG.Wait()
	}
	feed.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin server shutdown error")
	}

	eng.Stop()
	streamServer.Stop()
	if kafkaSink != nil {
		kafkaSink.Stop()
	}

	if monitor != nil {
		monitor.Stop()
		monitor.LogSummary()
		if *reportPath != "" {
			if err := monitor.WriteReport(*reportPath, *reportFormat); err != nil {
				log.Error().Err(err).Str("path", *reportPath).Msg("Report write failed")
				logger.CloseLogger()
				os.Exit(1)
			}
			log.Info().Str("path", *reportPath).Str("format", *reportFormat).Msg("Performance report written")
		}
	}

	log.Info().Msg("Shutdown complete")
}

// generateOrders drives the engine with random limit and market orders
// across the default symbols, for runs without any external clients.
func generateOrders(eng *engine.Engine, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			symbol := marketdata.DefaultSymbols[rng.Intn(len(marketdata.DefaultSymbols))]
			side := engine.SideBuy
			if rng.Intn(2) == 1 {
				side = engine.SideSell
			}
			orderType := engine.TypeLimit
			if rng.Intn(10) == 0 {
				orderType = engine.TypeMarket
			}

			price := 100.0 + rng.Float64()*900.0
			order := engine.NewOrder(0, 0, symbol, side, orderType, uint64(1+rng.Intn(1000)), price)
			_ = eng.SubmitOrder(order)
		}
	}
}
