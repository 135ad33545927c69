package main

import (
	"context"
	"log"
	"os"

	v1 "edge_certd/api/v1"
	"edge_certd/internal/archive"
	"edge_certd/internal/auth"
	"edge_certd/internal/cmdrunner"
	"edge_certd/internal/config"
	"edge_certd/internal/edge"
	"edge_certd/internal/platform"
	"edge_certd/internal/renewal"
	"edge_certd/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load configuration
	var cfg *config.Config
	var err error
	if iniPath := os.Getenv("CONFIG_INI"); iniPath != "" {
		cfg, err = config.LoadFromINI(iniPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize logger
	logrusLogger := logrus.New()
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrusLogger.SetLevel(level)
	}
	logger := logrus.NewEntry(logrusLogger)

	auth.InitJWT(cfg.JWT.Secret)

	// 3. Platform client and archive service
	platformClient := platform.NewClient(cfg)
	archiveService := archive.NewService(platformClient, cfg.Platform.ApplicationName, cfg.BaseDir, logger)

	// Restore previous ACME state if an archive exists. Failure must not
	// prevent startup; the process proceeds with whatever local state exists.
	if _, err := archiveService.Restore(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to restore previous ACME state")
	}

	// 4. Renewal pipeline
	issuer := renewal.NewIssuer(cmdrunner.NewExecRunner(), logger)

	// The edge usually presents a self-signed certificate; the gateway's
	// insecure transport is scoped to its own client instance.
	gatewayFactory := func(rcfg *renewal.Config) renewal.EdgeGateway {
		baseURL := cfg.Platform.BaseURL
		if rcfg.EdgeAddress != "" {
			baseURL = "https://" + rcfg.EdgeAddress
		}
		return edge.NewGateway(baseURL, true, logger)
	}

	coordinator := renewal.NewCoordinator(platformClient, issuer, archiveService, gatewayFactory,
		cfg.Platform.ApplicationName, cfg.BaseDir, logger)

	// 5. Daily randomized renewal trigger
	schedulerWorker := scheduler.NewWorker(coordinator, platformClient, cfg.Scheduler.Enabled, logger)
	schedulerWorker.Start()
	defer schedulerWorker.Stop()

	// 6. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	v1.SetupRouter(r, coordinator, platformClient)

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
