package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emisx/expander/cmd/expander/api"
	"github.com/emisx/expander/expansion"
	"github.com/emisx/expander/internal/config"
	"github.com/emisx/expander/rf2"
	"github.com/emisx/expander/terminology"
	"github.com/emisx/expander/util"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).With().Timestamp().Caller().Logger()

	root := &cobra.Command{
		Use:   "expander",
		Short: "Expands EMIS value sets into SNOMED CT concept sets",
	}
	root.AddCommand(newExpandCommand(log), newServeCommand(log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// buildOrchestrator wires the full pipeline from configuration: terminology
// client, translator, historical resolver, RF2 caches and expanders.
func buildOrchestrator(cfg config.Config, log zerolog.Logger) *expansion.Orchestrator {
	client := terminology.NewClient(terminology.Config{
		BaseURL:      cfg.TerminologyServer,
		SourceSystem: config.SourceCodeSystem,
		TargetSystem: config.SnomedCodeSystem,
		TokenURL:     cfg.AccessTokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		HTTPTimeout:  cfg.HTTPTimeout,
	}, log)

	translator := terminology.NewTranslator(client, cfg.PrimaryConceptMapID, cfg.FallbackConceptMapID, log)
	resolver := terminology.NewHistoricalResolver(client, log)

	refsetCache := rf2.NewRefsetCache(util.GetAbsolutePath(cfg.RefsetFile), log)
	descriptionCache := rf2.NewDescriptionCache(util.GetAbsolutePath(cfg.DescriptionFile), log)

	refsets := expansion.NewRefsetExpander(refsetCache, descriptionCache, resolver, log)
	substances := expansion.NewSubstanceExpander(client, log)

	return expansion.NewOrchestrator(translator, resolver, refsets, substances, client, log)
}

func newExpandCommand(log zerolog.Logger) *cobra.Command {
	var inputPath, outputPath string

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand the value sets of a report file and write the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("reading report file: %w", err)
			}
			var report expansion.Report
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("parsing report file: %w", err)
			}

			orchestrator := buildOrchestrator(cfg, log)

			start := time.Now()
			result, err := orchestrator.ExpandReport(cmd.Context(), report)
			if err != nil {
				return err
			}
			log.Debug().Msgf("Execution time: %s", time.Since(start))

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}

			if outputPath == "" {
				fmt.Println(string(out))
				return nil
			}
			if err := os.WriteFile(outputPath, out, 0o644); err != nil {
				return fmt.Errorf("writing result file: %w", err)
			}
			log.Info().Str("path", outputPath).Msg("Result written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "path to the report JSON file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "path to write the result JSON (default stdout)")
	cmd.MarkFlagRequired("input")

	return cmd
}

func newServeCommand(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the expansion pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			orchestrator := buildOrchestrator(cfg, log)
			router := api.NewRouter(orchestrator, log)

			server := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: router.SetupRoutes(),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.ListenAddr).Msg("Listening")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Info().Msg("Shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
}
