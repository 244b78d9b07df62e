package server

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"

	"github.com/averlard/custos/internal/config"
	"github.com/averlard/custos/internal/hub"
	"github.com/averlard/custos/internal/invoker"
	"github.com/averlard/custos/internal/store"
	"github.com/averlard/custos/internal/usecase/health"
	"github.com/averlard/custos/internal/usecase/jobs"
	"github.com/averlard/custos/internal/usecase/scheduler"
	"github.com/averlard/custos/pkg/logger"
)

// App wires the console's services together and owns their lifetimes.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Jobs      *jobs.Service
	Scheduler *scheduler.Service
	Hub       *hub.Hub
	Health    *health.Service
	Log       *log.Logger
	StartTime time.Time
}

// NewApp constructs the application graph from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	lg := logger.GetLogger()
	lg.ConfigureFromEnv()

	st, err := store.Open(cfg.Server.DataDir, lg.Logger)
	if err != nil {
		return nil, fmt.Errorf("open schedule store: %w", err)
	}

	healthSvc := health.NewService(cfg.Engine.Binary, cfg.Server.DataDir, lg.Logger)
	eventHub := hub.New(healthSvc, lg.Logger)

	engine := invoker.New(cfg.Engine.Binary, cfg.Engine.ExecTimeout, lg.Logger)
	jobSvc := jobs.NewService(engine, eventHub, lg.Logger)

	schedSvc, err := scheduler.NewService(st, jobSvc, eventHub, lg.Logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	return &App{
		Config:    cfg,
		Store:     st,
		Jobs:      jobSvc,
		Scheduler: schedSvc,
		Hub:       eventHub,
		Health:    healthSvc,
		Log:       lg.Logger,
		StartTime: time.Now().UTC(),
	}, nil
}

// GetUptime returns how long the app has been running.
func (a *App) GetUptime() string {
	return time.Since(a.StartTime).String()
}

// Shutdown performs a clean shutdown of the application. It is safe to call
// from a termination handler.
func (a *App) Shutdown() error {
	a.Log.Info("Initiating application shutdown")

	a.Hub.Cleanup()
	a.Scheduler.Stop()

	if err := a.Store.Close(); err != nil {
		a.Log.Error("Error closing schedule store", "error", err)
		return err
	}

	a.Log.Info("Application shutdown completed successfully")
	return nil
}
