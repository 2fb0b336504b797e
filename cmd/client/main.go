package main

import (
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/client"
	"github.com/lumaworks/pulse/pkg/domain"
)

var (
	addr     = flag.String("addr", "localhost:3000", "realtime server address")
	token    = flag.String("token", "", "bearer token")
	channels = flag.String("channels", "", "comma separated channels to subscribe")
)

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "debug",
		Format: "text",
	})

	u := url.URL{
		Scheme: "ws",
		Host:   *addr,
		Path:   "/ws",
	}

	options := client.DefaultOptions()
	options.Token = *token
	options.Logger = logger

	c := client.New(u, options)

	c.On(domain.MessageTypeGenerationProgress, func(env domain.Envelope) {
		var p domain.GenerationProgressPayload
		if err := env.Decode(&p); err != nil {
			logger.Warn("bad generation progress payload", "error", err)
			return
		}
		logger.Info("generation progress", "job", p.JobID, "progress", p.Progress, "status", p.Status)
	})

	c.On(domain.MessageTypeCreditBalanceUpdate, func(env domain.Envelope) {
		var p domain.CreditBalancePayload
		if err := env.Decode(&p); err != nil {
			logger.Warn("bad credit balance payload", "error", err)
			return
		}
		logger.Info("credit balance", "balance", p.NewBalance)
	})

	c.On(domain.MessageTypeFeedUpdate, func(env domain.Envelope) {
		logger.Info("feed update", "payload", string(env.Payload))
	})

	c.On(domain.MessageTypeNotification, func(env domain.Envelope) {
		logger.Info("notification", "payload", string(env.Payload))
	})

	if err := c.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.WaitForEstablished(5 * time.Second); err != nil {
		logger.Error("connection not established", "error", err)
		os.Exit(1)
	}

	logger.Info("connected", "client_id", c.ClientID(), "user_id", c.UserID())

	if *channels != "" {
		list := strings.Split(*channels, ",")
		if err := c.Subscribe(list...); err != nil {
			logger.Error("failed to subscribe", "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "channels", list)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
