// Package keepalive pings an external URL on a schedule so hosts that idle
// out quiet processes keep the bot running.
package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Pinger issues a GET to one URL on a cron schedule
type Pinger struct {
	url      string
	schedule string
	client   *resty.Client
	cron     *cron.Cron
}

// NewPinger creates a pinger for url. It does nothing until Start.
func NewPinger(url, schedule string) *Pinger {
	return &Pinger{
		url:      url,
		schedule: schedule,
		client:   resty.New().SetTimeout(30 * time.Second),
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start schedules the ping. An empty URL disables the pinger.
func (p *Pinger) Start() error {
	if p.url == "" {
		logrus.Info("Keep-alive disabled")
		return nil
	}

	_, err := p.cron.AddFunc(p.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logrus.Warnf("Keep-alive ping failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule keep-alive: %w", err)
	}

	p.cron.Start()
	logrus.Infof("Keep-alive scheduled: %s (%s)", p.url, p.schedule)
	return nil
}

// Stop halts the schedule
func (p *Pinger) Stop() {
	<-p.cron.Stop().Done()
}

// Ping sends a single request and fails on a non-2xx status
func (p *Pinger) Ping(ctx context.Context) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", "banger-bot/keepalive").
		Get(p.url)
	if err != nil {
		return fmt.Errorf("failed to ping %s: %w", p.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping %s returned status %d", p.url, resp.StatusCode())
	}
	logrus.Debugf("Keep-alive ping ok: %d", resp.StatusCode())
	return nil
}
