package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"entity-stream/adapter"
	"entity-stream/api"
	"entity-stream/bus"
	"entity-stream/history"
	"entity-stream/hub"
)

func main() {
	if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf(".env load: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	// Redis is optional: without it the replay history degrades to process
	// memory and survives only until restart.
	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc = redis.NewClient(redisOpts)
	}

	eventsToken := os.Getenv("EVENTS_TOKEN")
	if eventsToken == "" {
		log.Fatal("missing events token config")
	}

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	logger := log.StandardLogger()
	store := history.New(context.Background(), rc, logger)
	h := hub.New()
	a := adapter.New(h, store, logger)
	defer a.Close()
	b := bus.New()
	a.Attach(b)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, store, h, b, auth, eventsToken, logger)

	listenAddr := ":9000"
	if val, ok := os.LookupEnv("ENTITY_STREAM_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
