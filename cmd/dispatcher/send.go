package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/dispatch"
	"github.com/angeloszaimis/dispatcher/internal/ledger"
	"github.com/angeloszaimis/dispatcher/pkg/logger"
)

type sendResult struct {
	Outcome dispatch.Outcome `json:"outcome"`
	Error   string           `json:"error,omitempty"`
	Status  *ledger.Record   `json:"status"`
}

func newSendCmd(cfgFile *string) *cobra.Command {
	var msg dispatch.Message

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver one message and print its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			return sendOne(cmd.Context(), cfg, msg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&msg.ID, "id", "", "unique message id (required)")
	cmd.Flags().StringVar(&msg.To, "to", "", "recipient")
	cmd.Flags().StringVar(&msg.Subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&msg.Body, "body", "", "message body")
	return cmd
}

func sendOne(ctx context.Context, cfg *config.Config, msg dispatch.Message, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.NewWithWriter(logOut, cfg.Logging.Level, false, cfg.Server.Environment)

	engine, err := buildEngine(cfg, log, nil)
	if err != nil {
		return err
	}
	engine.Start(ctx)
	defer engine.Close()

	outcome, sendErr := engine.Send(ctx, msg)

	result := sendResult{Outcome: outcome}
	if sendErr != nil {
		result.Error = sendErr.Error()
	}
	if rec, ok := engine.GetStatus(msg.ID); ok {
		result.Status = &rec
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if sendErr != nil {
		return fmt.Errorf("message not delivered: %w", sendErr)
	}
	return nil
}
