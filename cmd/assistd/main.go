// Command assistd serves the transaction dispatcher over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/tranvictor/jarvis/networks"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/ethprovider"
	"github.com/tenfinney/assist/idempotency"
	"github.com/tenfinney/assist/internal/api"
	"github.com/tenfinney/assist/internal/config"
	"github.com/tenfinney/assist/kafkanotifier"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Error("assistd exited")
		os.Exit(1)
	}
}

func logEvents(event assist.Event) {
	logger.WithFields(logger.Fields{
		"event_code":    string(event.EventCode),
		"category_code": event.CategoryCode,
		"tx_id":         event.TransactionID(),
		"reason":        event.Reason,
	}).Info("lifecycle event")
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network, err := networks.GetNetworkByID(cfg.ChainID)
	if err != nil {
		return fmt.Errorf("unsupported chain id %d: %w", cfg.ChainID, err)
	}

	client, closeClient, err := ethprovider.Dial(ctx, cfg.RPCURL, cfg.PrivateKey, network)
	if err != nil {
		return err
	}
	defer closeClient()

	var adapter assist.ProtocolAdapter
	switch cfg.ProviderStyle {
	case config.ProviderStyleEvent:
		adapter = assist.NewEventAdapter(ethprovider.NewEventClient(client,
			ethprovider.WithEventConfirmations(cfg.Confirmations),
			ethprovider.WithHeadInterval(cfg.PollInterval),
		))
	default:
		adapter = assist.NewLegacyAdapter(client,
			assist.WithPollInterval(cfg.PollInterval),
			assist.WithConfirmations(cfg.Confirmations),
		)
	}

	notifiers := assist.MultiNotifier{assist.NotifierFunc(logEvents)}
	if len(cfg.KafkaBrokers) > 0 {
		kn := kafkanotifier.New(kafkanotifier.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		defer func() {
			if err := kn.Close(); err != nil {
				logger.WithFields(logger.Fields{
					"error": err,
				}).Warn("couldn't close kafka notifier")
			}
		}()
		notifiers = append(notifiers, kn)
	}

	opts := []assist.Option{
		assist.WithAccount(client.Address()),
		assist.WithNetwork(network),
		assist.WithNotifier(notifiers),
		assist.WithDefaults(cfg.Defaults()),
	}
	if cfg.RedisAddr != "" {
		store, redisClient, err := idempotency.DialRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.IdempotencyTTL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		opts = append(opts, assist.WithIdempotencyStore(store))
	} else {
		opts = append(opts, assist.WithDefaultIdempotencyStore(cfg.IdempotencyTTL))
	}

	d := assist.NewDispatcher(client, adapter, opts...)
	defer d.Close()

	logger.WithFields(logger.Fields{
		"wallet":         client.Address().Hex(),
		"network":        network.GetName(),
		"chain_id":       network.GetChainID(),
		"provider_style": cfg.ProviderStyle,
		"kafka":          len(cfg.KafkaBrokers) > 0,
		"redis":          cfg.RedisAddr != "",
	}).Info("dispatcher ready")

	server := api.NewServer(cfg.ListenAddr, d)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("couldn't shut down http server: %w", err)
	}
	logger.WithFields(logger.Fields{
		"addr": cfg.ListenAddr,
	}).Info("assistd stopped")
	return nil
}
