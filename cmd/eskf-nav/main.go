package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"eskf-nav/internal/config"
	"eskf-nav/internal/nav"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./eskf-nav.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a sensor log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLogSummary(summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		log.Fatalf("log setup failed: %v", err)
	}
	defer closeLog()

	if cfg.Runtime.LockMemory {
		if err := lockMemory(); err != nil {
			log.Printf("mlockall failed, continuing unlocked: %v", err)
		} else {
			log.Printf("memory locked")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	navCfg, frame, err := buildNavConfig(cfg)
	if err != nil {
		log.Fatalf("nav config failed: %v", err)
	}
	svc, err := nav.New(navCfg)
	if err != nil {
		log.Fatalf("nav init failed: %v", err)
	}

	log.Printf("eskf-nav starting source=%s model=%s mode=%s discretization=%s", sourceName(cfg), cfg.Update.Model, cfg.Update.Mode, cfg.Filter.Discretization)
	if err := run(ctx, cfg, svc, frame); err != nil && ctx.Err() == nil {
		logMetrics(svc.Metrics())
		log.Fatalf("run failed: %v", err)
	}
	logMetrics(svc.Metrics())
	log.Printf("eskf-nav stopping")
}

func sourceName(cfg config.Config) string {
	if cfg.Source.Replay.Enable {
		return "replay:" + cfg.Source.Replay.Path
	}
	if cfg.Source.Serial.Enable {
		if cfg.Source.Serial.Device == "" {
			return "serial:auto"
		}
		return "serial:" + cfg.Source.Serial.Device
	}
	return "sim:" + cfg.Source.Sim.Scenario
}

func logMetrics(m nav.Metrics) {
	log.Printf("metrics imu=%d predictions=%d predict_mean=%s predict_p99=%s", m.IMUSamples, m.Predictions, m.PredictMean, m.PredictP99)
	log.Printf("metrics fixes=%d updates=%d rejected=%d update_mean=%s update_p99=%s imu_gaps=%d", m.Fixes, m.Updates, m.Rejected, m.UpdateMean, m.UpdateP99, m.Gaps)
}
