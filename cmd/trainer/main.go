package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/partnerrec/internal/app"
	"github.com/temcen/partnerrec/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("trainer", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a config file (default ./config/app.yaml)")
	flags.String("schedule", "", "cron spec for full training runs")
	flags.String("trending-schedule", "", "cron spec for trending refreshes, empty disables them")
	flags.Bool("once", false, "run one training pass and exit")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	bindFlag(v, "trainer.schedule", flags.Lookup("schedule"))
	bindFlag(v, "trainer.trending_schedule", flags.Lookup("trending-schedule"))
	bindFlag(v, "trainer.once", flags.Lookup("once"))

	cfg, err := config.LoadWith(v)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	trainer, err := app.NewTrainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize trainer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Trainer.Once {
		os.Exit(runOnce(ctx, trainer))
	}

	if err := trainer.Start(ctx); err != nil {
		log.Fatalf("Failed to schedule trainer: %v", err)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           trainer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down trainer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}
	if err := trainer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// runOnce returns the process exit code: 0 when the run activated an
// artifact, 1 otherwise.
func runOnce(ctx context.Context, trainer *app.Trainer) int {
	result, runErr := trainer.RunOnce(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := trainer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	if runErr != nil {
		log.Printf("Training run failed: %v", runErr)
		return 1
	}
	log.Printf("Training run %s activated", result.RunID)
	return 0
}

// bindFlag lets an explicitly set flag override file and env values.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		log.Fatalf("Failed to bind flag %s: %v", flag.Name, err)
	}
}
