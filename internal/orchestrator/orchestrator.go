// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator wires up every component (C1-C11) in the fixed
// startup order spec §4.12 mandates, runs them until a shutdown signal
// arrives, and unwinds them in reverse (spec C12).
package orchestrator

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
	"github.com/ouattaraab/Icon/internal/certmgr"
	"github.com/ouattaraab/Icon/internal/clipboard"
	"github.com/ouattaraab/Icon/internal/config"
	"github.com/ouattaraab/Icon/internal/domainfilter"
	"github.com/ouattaraab/Icon/internal/heartbeat"
	"github.com/ouattaraab/Icon/internal/metrics"
	"github.com/ouattaraab/Icon/internal/proxy"
	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
	"github.com/ouattaraab/Icon/internal/rulesync"
	"github.com/ouattaraab/Icon/internal/store"
	"github.com/ouattaraab/Icon/internal/update"
)

const (
	secretMachineID  = "machine_id"
	secretAPIKey     = "api_key"
	secretHMACSecret = "hmac_secret"
)

// AgentVersion is the build-time agent version reported at registration
// and compared against in update checks; overridden via -ldflags in a
// real build, left as a sentinel default otherwise.
var AgentVersion = "dev"

// Agent owns every long-running component and the goroutines that run
// them, for orderly startup and shutdown.
type Agent struct {
	cfg config.AppConfig
	log *zap.Logger

	store    *store.Store
	certs    *certmgr.Manager
	domains  *domainfilter.Filter
	engine   *rules.Engine
	api      *apiclient.Client
	drainer  *queue.Drainer
	syncer   *rulesync.Syncer
	proxySrv *proxy.Server
	clipMon  *clipboard.Monitor
	metrics  *metrics.Server
	beat     *heartbeat.Loop
}

// New performs the full fixed startup sequence: load config, open the
// encrypted store, restore or bootstrap credentials, load cached rules and
// domains, and construct (without yet running) every component.
func New(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*Agent, error) {
	a := &Agent{cfg: cfg, log: log}

	var encKey []byte
	if cfg.Store.EncryptionKeyHex != "" {
		k, err := hex.DecodeString(cfg.Store.EncryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decode store encryption key: %w", err)
		}
		encKey = k
	}

	st, err := store.Open(cfg.Store.Path, encKey, log)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}
	a.store = st

	certs, err := certmgr.LoadOrGenerate(cfg.Proxy.CACertFile, cfg.Proxy.CAKeyFile, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("orchestrator: load/generate CA: %w", err)
	}
	a.certs = certs

	if err := a.installCATrust(); err != nil {
		log.Warn("CA trust-store install failed, continuing without it", zap.Error(err))
	}

	apiClient, machineID, err := a.bootstrapCredentials(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("orchestrator: bootstrap credentials: %w", err)
	}
	a.api = apiClient

	a.engine = rules.NewEngine(st, log)
	if err := a.engine.Load(ctx); err != nil {
		log.Warn("loading cached rules failed, starting with an empty rule set", zap.Error(err))
	}

	a.domains = domainfilter.NewWithDefaults()
	if records, err := st.MonitoredDomains(ctx); err == nil && len(records) > 0 {
		a.domains.Update(toDomainEntries(records))
	}

	a.syncer = rulesync.New(apiClient, a.engine, log)

	a.pullLatest(ctx)

	a.drainer = queue.NewDrainer(st, apiClient, machineID, log).
		WithIntervals(
			secondsOr(cfg.Store.EventSyncIntervalS, 0),
			cfg.Store.EventBatchSize,
			daysOr(cfg.Store.RetentionDays, 0),
		)

	a.proxySrv = proxy.New(cfg.Proxy.ListenAddr, a.domains, a.certs, a.engine, a.drainer, log)

	if cfg.Clipboard.Enabled {
		var opts []clipboard.Option
		if cfg.Clipboard.PollIntervalMS > 0 {
			opts = append(opts, clipboard.WithPollInterval(msToDuration(cfg.Clipboard.PollIntervalMS)))
		}
		a.clipMon = clipboard.New(a.engine, a.drainer, log, opts...)
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.ListenAddr, log)
	}

	updateChecker := update.New(apiClient, AgentVersion, log)
	a.beat = heartbeat.New(apiClient, a.syncer, updateChecker, log)
	if cfg.API.HeartbeatIntervalSecs > 0 {
		a.beat = a.beat.WithInterval(secondsOr(cfg.API.HeartbeatIntervalSecs, 0))
	}

	return a, nil
}

// bootstrapCredentials restores machine_id/api_key/hmac_secret from the
// store, registering fresh ones with the control plane if none are
// persisted yet (spec §4.12: "register if no machine_id").
func (a *Agent) bootstrapCredentials(ctx context.Context, cfg config.AppConfig) (*apiclient.Client, string, error) {
	machineID, _ := a.store.GetSecret(ctx, secretMachineID)
	apiKey, _ := a.store.GetSecret(ctx, secretAPIKey)
	hmacSecret, _ := a.store.GetSecret(ctx, secretHMACSecret)

	apiCfg := apiclient.Config{
		BaseURL:       cfg.API.BaseURL,
		APIKey:        apiKey,
		HMACSecret:    hmacSecret,
		EnrollmentKey: cfg.API.EnrollmentKey,
	}
	if cfg.API.PinnedCertSHA != "" {
		pin, err := hex.DecodeString(cfg.API.PinnedCertSHA)
		if err != nil {
			return nil, "", fmt.Errorf("decode pinned cert sha256: %w", err)
		}
		apiCfg.PinnedSHA256 = pin
	}
	client := apiclient.New(apiCfg, a.log)

	if machineID != "" {
		return client, machineID, nil
	}

	hostname, _ := os.Hostname()
	reg, err := client.Register(ctx, apiclient.RegisterRequest{
		Hostname:  hostname,
		OS:        currentOS(),
		OSVersion: "unknown",
	})
	if err != nil {
		return nil, "", fmt.Errorf("register: %w", err)
	}

	if err := a.store.PutSecret(ctx, secretMachineID, reg.MachineID); err != nil {
		return nil, "", fmt.Errorf("persist machine_id: %w", err)
	}
	if err := a.store.PutSecret(ctx, secretAPIKey, reg.APIKey); err != nil {
		return nil, "", fmt.Errorf("persist api_key: %w", err)
	}
	if err := a.store.PutSecret(ctx, secretHMACSecret, reg.HMACSecret); err != nil {
		return nil, "", fmt.Errorf("persist hmac_secret: %w", err)
	}

	return apiclient.New(apiclient.Config{
		BaseURL:       cfg.API.BaseURL,
		APIKey:        reg.APIKey,
		HMACSecret:    reg.HMACSecret,
		PinnedSHA256:  apiCfg.PinnedSHA256,
		EnrollmentKey: cfg.API.EnrollmentKey,
	}, a.log), reg.MachineID, nil
}

// pullLatest best-effort syncs rules and domains once at startup so the
// agent doesn't run empty-handed before its first background sync tick.
// Failures here are logged, never fatal (spec §4.12: "best-effort").
func (a *Agent) pullLatest(ctx context.Context) {
	if err := a.syncer.Poll(ctx); err != nil {
		a.log.Warn("startup rule sync failed", zap.Error(err))
	}

	resp, err := a.api.SyncDomains(ctx)
	if err != nil {
		a.log.Warn("startup domain sync failed", zap.Error(err))
		return
	}
	records := make([]store.DomainRecord, 0, len(resp.Domains))
	entries := make([]domainfilter.Entry, 0, len(resp.Domains))
	for _, d := range resp.Domains {
		records = append(records, store.DomainRecord{Domain: d.Domain, Platform: d.PlatformName, IsBlocked: d.IsBlocked})
		entries = append(entries, domainfilter.Entry{Domain: d.Domain, Platform: d.PlatformName, IsBlocked: d.IsBlocked})
	}
	a.domains.Update(entries)
	if err := a.store.ReplaceMonitoredDomains(ctx, records); err != nil {
		a.log.Warn("persisting synced domains failed", zap.Error(err))
	}
}

func (a *Agent) installCATrust() error {
	return a.certs.InstallInTrustStore()
}

// Run spawns every background component and blocks until ctx is
// cancelled, then unwinds in reverse startup order.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(runCtx)
		}()
	}

	spawn(func(ctx context.Context) {
		if err := a.proxySrv.Serve(ctx); err != nil {
			a.log.Error("proxy server stopped", zap.Error(err))
		}
	})
	spawn(a.drainer.RunSync)
	spawn(a.drainer.RunRetention)
	spawn(func(ctx context.Context) { a.syncer.RunPush(ctx, pushConfig(a.cfg)) })
	spawn(a.beat.Run)
	if a.clipMon != nil {
		spawn(a.clipMon.Run)
	}
	if a.metrics != nil {
		spawn(func(ctx context.Context) {
			if err := a.metrics.Serve(ctx); err != nil {
				a.log.Error("metrics server stopped", zap.Error(err))
			}
		})
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received, draining in-flight connections")
	cancel()
	wg.Wait()

	if err := a.uninstallSystemProxy(); err != nil {
		a.log.Warn("system proxy teardown failed", zap.Error(err))
	}
	return a.store.Close()
}

// uninstallSystemProxy removes the OS-level HTTP(S) proxy configuration
// pointed at this agent. No per-OS system-proxy library was found
// anywhere in the corpus (see DESIGN.md); this is a deliberate no-op
// logged for operator visibility rather than a hand-rolled registry/
// scutil/gsettings implementation.
func (a *Agent) uninstallSystemProxy() error {
	a.log.Info("system proxy configuration removal is not automated; see install guidance")
	return nil
}

func toDomainEntries(records []store.DomainRecord) []domainfilter.Entry {
	out := make([]domainfilter.Entry, len(records))
	for i, r := range records {
		out[i] = domainfilter.Entry{Domain: r.Domain, Platform: r.Platform, IsBlocked: r.IsBlocked}
	}
	return out
}

func pushConfig(cfg config.AppConfig) rulesync.PushConfig {
	return rulesync.PushConfig{
		URL:     cfg.RuleSync.WebsocketURL,
		AppKey:  cfg.RuleSync.ReverbAppKey,
		Channel: cfg.RuleSync.ReverbChannel,
	}
}

func currentOS() string {
	return osName()
}
