package main

import (
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/nurpe/sealed-bids/internal/auth"
	"github.com/nurpe/sealed-bids/internal/config"
	"github.com/nurpe/sealed-bids/internal/db"
	"github.com/nurpe/sealed-bids/internal/excel"
	httphandler "github.com/nurpe/sealed-bids/internal/http"
	"github.com/nurpe/sealed-bids/internal/http/middleware"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/logger"
	"github.com/nurpe/sealed-bids/internal/metrics"
	"github.com/nurpe/sealed-bids/internal/pdf"
	"github.com/nurpe/sealed-bids/internal/report"
	"github.com/nurpe/sealed-bids/internal/repository"
	"github.com/nurpe/sealed-bids/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	pdfGenerator, err := pdf.NewGenerator(cfg.Report.FontFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init pdf generator")
	}

	deps := service.Dependencies{
		ActiveKeyID: cfg.Sealing.ActiveKeyID,
		Clock:       clockwork.NewRealClock(),
		Logger:      log,
		Metrics:     metrics.New(),
		PDF:         pdfGenerator,
		Excel:       excel.NewGenerator(),
		Workers:     cfg.Sealing.Workers,
	}

	switch cfg.DB.Driver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		directory := repository.NewMemoryDirectory()
		deps.Store = repository.NewMemoryStore()
		deps.Tenders = directory
		deps.Suppliers = directory
	default:
		database, err := db.New(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect database")
		}
		directory := repository.NewDirectoryRepository(database)
		deps.Store = repository.NewPostgresStore(database)
		deps.Tenders = directory
		deps.Suppliers = directory
	}

	deps.Keys, err = keystore.NewConfigProvider(cfg.Sealing.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load sealing keys")
	}

	if cfg.Report.SigningKeyPEM != "" {
		signer, err := newReportSigner(cfg.Report)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init report signer")
		}
		deps.Signer = signer
	} else {
		log.Info().Msg("report signing key not configured, signed export disabled")
	}

	openingService, err := service.NewOpeningService(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init opening service")
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(openingService, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, httphandler.RouterConfig{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		Metrics:        deps.Metrics,
		Log:            log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().
		Str("addr", addr).
		Str("store", cfg.DB.Driver).
		Str("active_key", cfg.Sealing.ActiveKeyID).
		Msg("starting bid opening service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func newReportSigner(cfg config.ReportConfig) (*report.Signer, error) {
	key, err := report.ParsePrivateKeyPEM([]byte(cfg.SigningKeyPEM))
	if err != nil {
		return nil, err
	}
	gen, err := report.NewGenerator()
	if err != nil {
		return nil, err
	}
	return report.NewSigner(gen, key, cfg.SigningKeyID)
}
