package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/app/conversation"
	"github.com/PabloGalante/lotus-agent/internal/config"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// turnCmd runs one session-less turn against the configured model provider
// and prints the result as JSON. Useful to try prompts without the API.
func turnCmd() *cobra.Command {
	var (
		stage       int
		historyFile string
	)

	cmd := &cobra.Command{
		Use:   "turn [message]",
		Short: "Run a single stateless turn and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			observability.SetLevel(cfg.LogLevel)
			log := observability.Logger()

			var history []domain.TurnMessage
			if historyFile != "" {
				data, err := os.ReadFile(historyFile)
				if err != nil {
					return fmt.Errorf("read history: %w", err)
				}
				if err := json.Unmarshal(data, &history); err != nil {
					return fmt.Errorf("parse history: %w", err)
				}
			}

			llmClient, err := newLLMClient(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}

			// No stores: HandleVoiceTurn never touches them.
			svc := conversation.NewService(
				agentflow.NewDefaultOrchestrator(llmClient, tiers(cfg), nil),
				nil,
				nil,
				conversation.WithHistoryLimit(cfg.HistoryLimit),
			)

			out, err := svc.HandleVoiceTurn(cmd.Context(), conversation.VoiceTurnInput{
				Stage:       domain.Stage(stage),
				Messages:    history,
				UserMessage: args[0],
			})
			if errors.Is(err, domain.ErrInvalidStage) {
				return fmt.Errorf("--stage must be between %d and %d", domain.FirstStage, domain.FinalStage)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVarP(&stage, "stage", "s", int(domain.StageWarmup), "Current stage (1-5)")
	cmd.Flags().StringVar(&historyFile, "history", "", "JSON file with prior messages ([{role, content}])")

	return cmd
}
