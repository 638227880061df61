package app

import (
	"fmt"
	"time"

	"github.com/bissquit/courier/internal/config"
	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/email"
	"github.com/bissquit/courier/internal/notifications/ratelimit"
	"github.com/bissquit/courier/internal/notifications/retry"
	"github.com/bissquit/courier/internal/notifications/sms"
	"github.com/bissquit/courier/internal/pkg/lease"
	"github.com/bissquit/courier/internal/pkg/provider"
)

// components are the delivery building blocks shared by the server and the sweep command.
type components struct {
	service *notifications.Service
	sweeper *notifications.Sweeper
}

func buildComponents(cfg *config.Config, repo notifications.Repository, l *lease.RedisLease) (*components, error) {
	retryConfig := retry.Config{
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialDelay:      cfg.Retry.InitialDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}

	suppressions := notifications.NewSuppressionList(repo)
	deliveryLog := notifications.NewDeliveryLog(repo)
	queue := notifications.NewDeliveryQueue(repo, notifications.QueueConfig{
		MaxRetries: cfg.Queue.MaxRetries,
		Retry:      retryConfig,
	})
	deliverer := notifications.NewDeliverer(suppressions, deliveryLog, queue, retryConfig)

	adapters := make(map[domain.Channel]notifications.Redeliverer)

	var emailAdapter *notifications.EmailAdapter
	if cfg.Email.Enabled {
		transport, err := newEmailTransport(cfg)
		if err != nil {
			return nil, err
		}
		emailAdapter = notifications.NewEmailAdapter(transport, deliverer, notifications.EmailConfig{
			From:      cfg.Email.From,
			BatchSize: cfg.Email.BatchSize,
		})
		adapters[domain.ChannelEmail] = emailAdapter
	}

	var smsAdapter *notifications.SMSAdapter
	if cfg.SMS.Enabled {
		transport, err := sms.NewTransport(sms.Config{
			BaseURL:    cfg.SMS.BaseURL,
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			Client:     providerConfig(cfg, "sms_api", cfg.SMS.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("create sms transport: %w", err)
		}
		limiter := ratelimit.NewTokenBucket(ratelimit.Config{
			PerSecond: cfg.SMS.RateLimit.PerSecond,
			Burst:     cfg.SMS.RateLimit.Burst,
		})
		smsAdapter = notifications.NewSMSAdapter(transport, limiter, deliverer, notifications.SMSConfig{From: cfg.SMS.From})
		adapters[domain.ChannelSMS] = smsAdapter
	}

	var sweeperOpts []notifications.SweeperOption
	if l != nil {
		sweeperOpts = append(sweeperOpts, notifications.WithLocker(l))
	}
	sweeper := notifications.NewSweeper(notifications.SweeperConfig{
		BatchSize:  cfg.Sweeper.BatchSize,
		Retry:      retryConfig,
		StuckAfter: cfg.Sweeper.StuckAfter,
	}, repo, adapters, sweeperOpts...)

	return &components{
		service: notifications.NewService(emailAdapter, smsAdapter, sweeper, queue, deliveryLog, suppressions),
		sweeper: sweeper,
	}, nil
}

func newEmailTransport(cfg *config.Config) (notifications.EmailTransport, error) {
	switch cfg.Email.Provider {
	case "smtp":
		t, err := email.NewSMTPTransport(email.SMTPConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			TLS:      cfg.Email.SMTP.TLS,
			Timeout:  cfg.Email.SMTP.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create smtp transport: %w", err)
		}
		return t, nil
	default:
		t, err := email.NewHTTPTransport(email.HTTPConfig{
			BaseURL: cfg.Email.HTTP.BaseURL,
			APIKey:  cfg.Email.HTTP.APIKey,
			Client:  providerConfig(cfg, "email_api", cfg.Email.HTTP.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("create email transport: %w", err)
		}
		return t, nil
	}
}

func providerConfig(cfg *config.Config, name string, timeout time.Duration) provider.Config {
	return provider.Config{
		Name:    name,
		Timeout: timeout,
		Breaker: provider.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
			Interval:            cfg.Breaker.Interval,
		},
	}
}
