package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/alerts"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/broadcast"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/devicemanagement"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/ingest"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/logging"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/router"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/transport/mqtt"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/presentation/api"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/presentation/api/auth"
)

const serviceName string = "incubator-mgmt"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort

	mqttHost
	mqttPort
	mqttUser
	mqttPassword
	topicNamespace
	topicSuffix

	dbHost
	dbPort
	dbUser
	dbPassword
	dbName
	dbSSLMode

	jwtSecret

	devmode
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",

		mqttHost:       "localhost",
		mqttPort:       "1883",
		mqttUser:       "",
		mqttPassword:   "",
		topicNamespace: "egg",
		topicSuffix:    "telemetry",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "incubator",
		dbSSLMode:  "disable",

		jwtSecret: "change-me-in-production",

		devmode: "false",
	}
}

func main() {
	godotenv.Load()

	flags := parseExternalConfig(defaultFlags())

	ctx, logger := logging.NewLogger(context.Background(), serviceName, version())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStorage(ctx, flags)
	exitIf(err, logger, "could not create or connect to database")

	registry := broadcast.New()
	deviceMgmt := devicemanagement.New(store)
	alertSvc := alerts.New(store)

	brokerPort, err := strconv.Atoi(flags[mqttPort])
	exitIf(err, logger, "invalid mqtt port")

	source := mqtt.New(mqtt.Config{
		BrokerHost: flags[mqttHost],
		BrokerPort: brokerPort,
		Topic:      flags[topicNamespace] + "/+/" + flags[topicSuffix],
		ClientID:   serviceName,
		Username:   flags[mqttUser],
		Password:   flags[mqttPassword],
	})

	pipelineCfg := ingest.DefaultConfig()
	pipelineCfg.TopicNamespace = flags[topicNamespace]
	pipelineCfg.TopicSuffix = flags[topicSuffix]

	pipeline := ingest.New(source, store, registry, pipelineCfg)
	pipeline.Start(ctx)

	r := router.New(serviceName)
	tokenAuth := auth.NewTokenAuth(flags[jwtSecret])
	api.RegisterHandlers(logger, r, tokenAuth, deviceMgmt, alertSvc, registry)

	server := &http.Server{
		Addr:    flags[listenAddress] + ":" + flags[servicePort],
		Handler: r,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := pipeline.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("pipeline did not drain in time")
		}

		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Msgf("starting to listen for connections on %s", server.Addr)

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		exitIf(err, logger, "failed to start request router")
	}
}

func newStorage(ctx context.Context, flags flagMap) (database.Store, error) {
	if flags[devmode] == "true" {
		return database.New(database.NewSQLiteConnector(ctx))
	}

	return database.New(database.NewPostgreSQLConnector(ctx, database.ConnectorConfig{
		Host:     flags[dbHost],
		Port:     flags[dbPort],
		Username: flags[dbUser],
		DbName:   flags[dbName],
		Password: flags[dbPassword],
		SslMode:  flags[dbSSLMode],
	}))
}

func parseExternalConfig(flags flagMap) flagMap {
	// Allow environment variables to override certain defaults
	envOrDef := func(name, def string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	}

	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])

	flags[mqttHost] = envOrDef("MQTT_BROKER", flags[mqttHost])
	flags[mqttPort] = envOrDef("MQTT_PORT", flags[mqttPort])
	flags[mqttUser] = envOrDef("MQTT_USER", flags[mqttUser])
	flags[mqttPassword] = envOrDef("MQTT_PASSWORD", flags[mqttPassword])

	flags[dbHost] = envOrDef("POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef("POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef("POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef("POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef("POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef("POSTGRES_SSLMODE", flags[dbSSLMode])

	flags[jwtSecret] = envOrDef("JWT_SECRET_KEY", flags[jwtSecret])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("devmode", "use an in-memory database", apply(devmode))
	flag.Func("namespace", "telemetry topic namespace", apply(topicNamespace))
	flag.Parse()

	return flags
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	if sha == "" {
		return "unknown"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
