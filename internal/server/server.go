// Package server composes the registry, scheduler, I/O servers, relay
// fan-out, operational hooks, metrics exporter, and spectrometer poller
// into a single process, and owns the config hot-reload loop that feeds
// them. This is the one place that wires every ambient and domain
// component together; nothing downstream of it imports it back.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fissellab/bcp-telemetry/internal/config"
	telemetryerrors "github.com/fissellab/bcp-telemetry/internal/errors"
	"github.com/fissellab/bcp-telemetry/internal/hooks"
	"github.com/fissellab/bcp-telemetry/internal/ioserver"
	"github.com/fissellab/bcp-telemetry/internal/logger"
	"github.com/fissellab/bcp-telemetry/internal/metrics"
	"github.com/fissellab/bcp-telemetry/internal/registry"
	"github.com/fissellab/bcp-telemetry/internal/relay"
	"github.com/fissellab/bcp-telemetry/internal/scheduler"
	"github.com/fissellab/bcp-telemetry/internal/spectrometer"
)

// staleAfter is how long a metric's latest sample can go un-downlinked
// before the stalled-metric sweep fires metric.stalled for it.
const staleAfter = 30 * time.Second

// metricsSweepInterval paces both the Prometheus gauge scrape and the
// metric.stalled hook sweep.
const metricsSweepInterval = 5 * time.Second

// Server owns every long-running component of one telemetry bus process.
type Server struct {
	cfg    config.Config
	log    *slog.Logger
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	hooks  *hooks.Manager
	relay  *relay.Manager
	metric *metrics.Registry

	ingest      *ioserver.IngestServer
	request     *ioserver.RequestServer
	telecommand *ioserver.TelecommandServer
	downlink    *ioserver.DownlinkSender

	spectrometerPoller *spectrometer.Poller
	spectrometerRegion *spectrometer.Region

	configWatcher *config.Watcher

	stopSweep chan struct{}

	lastDownlinkedAt map[string]time.Time
}

// New constructs every component from cfg but starts nothing. A
// construction failure (typically a bad listen address) is returned
// immediately rather than partially starting the bus.
func New(cfg config.Config) (*Server, error) {
	log := logger.Logger().With("component", "server")

	reg := registry.New(cfg.Bps, cfg.MaxPacketSize)
	if len(cfg.TokenThresholds) > 0 {
		reg.SetInitialTokenThresholds(cfg.TokenThresholds)
	}

	hookMgr := hooks.NewManager(hooks.Config{
		Timeout:     cfg.Hooks.Timeout,
		Concurrency: cfg.Hooks.Concurrency,
		StdioFormat: cfg.Hooks.StdioFormat,
	}, log)
	for i, sh := range cfg.Hooks.Shell {
		timeout := time.Duration(sh.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		h := hooks.NewShellHook(fmt.Sprintf("shell-%d", i), sh.Command, timeout)
		if err := hookMgr.RegisterHook(hooks.EventType(sh.Event), h); err != nil {
			log.Warn("failed to register configured shell hook", "event", sh.Event, "error", err)
		}
	}
	for i, wh := range cfg.Hooks.Webhook {
		timeout := time.Duration(wh.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		h := hooks.NewWebhookHook(fmt.Sprintf("webhook-%d", i), wh.URL, timeout)
		if err := hookMgr.RegisterHook(hooks.EventType(wh.Event), h); err != nil {
			log.Warn("failed to register configured webhook hook", "event", wh.Event, "error", err)
		}
	}

	var relayMgr *relay.Manager
	if len(cfg.Endpoints.RelayDests) > 0 {
		relayMgr = relay.NewManager(cfg.Endpoints.RelayDests)
	}

	var metricReg *metrics.Registry
	if cfg.Endpoints.MetricsListen != "" {
		metricReg = metrics.New(cfg.Endpoints.MetricsListen)
	}

	sched := scheduler.New(reg)

	ingestSrv, err := ioserver.NewIngestServer(cfg.Endpoints.Ingest, reg)
	if err != nil {
		return nil, err
	}
	requestSrv, err := ioserver.NewRequestServer(cfg.Endpoints.Request, reg)
	if err != nil {
		return nil, err
	}
	telecommandSrv, err := ioserver.NewTelecommandServer(cfg.Endpoints.Telecommand, reg)
	if err != nil {
		return nil, err
	}
	telecommandSrv.SetHookManager(hookMgr)

	downlinkSrv, err := ioserver.NewDownlinkSender(cfg.Endpoints.DownlinkSource, cfg.Endpoints.DownlinkDest, reg, sched)
	if err != nil {
		return nil, err
	}
	if relayMgr != nil {
		downlinkSrv.SetRelay(relayMgr)
	}
	if metricReg != nil {
		downlinkSrv.SetMetrics(metricReg)
	}

	var specRegion *spectrometer.Region
	var specPoller *spectrometer.Poller
	if cfg.Endpoints.SpectrometerSHM != "" {
		specRegion, err = spectrometer.OpenRegion(cfg.Endpoints.SpectrometerSHM)
		if err != nil {
			log.Warn("spectrometer shared memory unavailable, continuing without it", "error", err)
		} else {
			specPoller = spectrometer.NewPoller(specRegion, reg, "spool/spectrometer", time.Second)
		}
	}

	reg.SetMetricCreatedHook(func(id string) {
		hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(hooks.EventMetricCreated).WithMetricID(id))
	})
	if metricReg != nil {
		reg.SetSegmentsAckedHook(func(count int) {
			metricReg.SegmentsAcked.Add(float64(count))
		})
	}

	return &Server{
		cfg:                cfg,
		log:                log,
		reg:                reg,
		sched:              sched,
		hooks:              hookMgr,
		relay:              relayMgr,
		metric:             metricReg,
		ingest:             ingestSrv,
		request:            requestSrv,
		telecommand:        telecommandSrv,
		downlink:           downlinkSrv,
		spectrometerRegion: specRegion,
		spectrometerPoller: specPoller,
		stopSweep:          make(chan struct{}),
		lastDownlinkedAt:   make(map[string]time.Time),
	}, nil
}

// Start launches every component's background goroutine. The metrics HTTP
// server, if configured, binds synchronously so a port conflict is
// reported immediately rather than discovered later.
func (s *Server) Start() error {
	if s.metric != nil {
		errCh, err := s.metric.Start()
		if err != nil {
			return telemetryerrors.NewBindError(s.cfg.Endpoints.MetricsListen, err)
		}
		go func() {
			if err, ok := <-errCh; ok {
				s.log.Error("metrics server error", "error", err)
			}
		}()
	}

	s.ingest.Start()
	s.request.Start()
	s.telecommand.Start()
	s.downlink.Start()
	if s.spectrometerPoller != nil {
		s.spectrometerPoller.Start()
	}

	go s.sweepLoop()

	s.log.Info("telemetry bus started",
		"ingest", s.ingest.Addr(),
		"request", s.request.Addr(),
		"telecommand", s.telecommand.Addr(),
		"downlink_source", s.downlink.Addr(),
		"downlink_dest", s.cfg.Endpoints.DownlinkDest,
	)
	return nil
}

// IngestAddr, RequestAddr, TelecommandAddr, and DownlinkAddr expose the
// actual bound addresses of the four I/O sockets, useful when the
// configured listen address uses an ephemeral port (":0").
func (s *Server) IngestAddr() string      { return s.ingest.Addr() }
func (s *Server) RequestAddr() string     { return s.request.Addr() }
func (s *Server) TelecommandAddr() string { return s.telecommand.Addr() }
func (s *Server) DownlinkAddr() string    { return s.downlink.Addr() }

// MetricsAddr returns the bound address of the Prometheus exporter, or
// empty if metrics were not configured.
func (s *Server) MetricsAddr() string {
	if s.metric == nil {
		return ""
	}
	return s.metric.Addr()
}

// WatchConfig starts hot-reloading bps/max_packet_size/token_thresholds
// from the file at path, applying each successfully reloaded Config to the
// live registry. Reloaded token_thresholds apply only to metrics first
// seen after the reload. Listen addresses and hook/relay wiring are fixed at
// construction and are not reloaded: changing them requires a restart.
func (s *Server) WatchConfig(ctx context.Context, path string) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		return fmt.Errorf("server: start config watcher: %w", err)
	}
	s.configWatcher = w

	changes, errs := w.Watch(ctx)
	go func() {
		for {
			select {
			case cfg, ok := <-changes:
				if !ok {
					return
				}
				s.applyConfig(cfg)
			case err, ok := <-errs:
				if !ok {
					return
				}
				s.log.Warn("config reload error", "error", err)
			}
		}
	}()
	return nil
}

func (s *Server) applyConfig(cfg config.Config) {
	s.reg.SetBps(cfg.Bps)
	s.reg.SetMaxPacketSize(cfg.MaxPacketSize)
	if len(cfg.TokenThresholds) > 0 {
		s.reg.SetInitialTokenThresholds(cfg.TokenThresholds)
	}
	s.log.Info("applied reloaded config", "bps", cfg.Bps, "max_packet_size", cfg.MaxPacketSize)
}

// sweepLoop periodically scrapes the registry into the metrics gauges and
// checks for stalled metrics, firing metric.stalled once a metric has been
// stalled for staleAfter and again after each further staleAfter it stays
// stalled.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(metricsSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	snaps := s.reg.Snapshot()
	now := time.Now()

	if s.metric != nil {
		s.metric.Bps.Set(float64(s.reg.Bps()))
		s.metric.MaxPacketSize.Set(float64(s.reg.MaxPacketSize()))
	}

	for _, snap := range snaps {
		if s.metric != nil {
			s.metric.QueueDepth.WithLabelValues(snap.MetricID).Set(float64(snap.UnackedSegments))
			s.metric.TokenThreshold.WithLabelValues(snap.MetricID).Set(float64(snap.TokenThreshold))
		}

		if snap.LatestDownlinked {
			delete(s.lastDownlinkedAt, snap.MetricID)
			continue
		}
		if _, tracked := s.lastDownlinkedAt[snap.MetricID]; !tracked {
			s.lastDownlinkedAt[snap.MetricID] = now
			continue
		}
		if now.Sub(s.lastDownlinkedAt[snap.MetricID]) >= staleAfter {
			s.hooks.TriggerEvent(context.Background(),
				*hooks.NewEvent(hooks.EventMetricStalled).WithMetricID(snap.MetricID))
			s.lastDownlinkedAt[snap.MetricID] = now
		}
	}
}

// Stop shuts down every component in the reverse order Start launched
// them, waiting for each to fully exit before proceeding to the next.
func (s *Server) Stop() error {
	close(s.stopSweep)

	if s.configWatcher != nil {
		s.configWatcher.Stop()
	}
	if s.spectrometerPoller != nil {
		s.spectrometerPoller.Stop()
	}
	if s.spectrometerRegion != nil {
		s.spectrometerRegion.Close()
	}

	_ = s.downlink.Stop()
	_ = s.telecommand.Stop()
	_ = s.request.Stop()
	_ = s.ingest.Stop()

	if s.relay != nil {
		_ = s.relay.Close()
	}
	if s.metric != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metric.Stop(ctx)
	}
	_ = s.hooks.Close()

	s.log.Info("telemetry bus stopped")
	return nil
}
