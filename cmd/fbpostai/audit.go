package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janakkhadka100/fb-post-ai/internal/audit"
	"github.com/janakkhadka100/fb-post-ai/pkg/config"
	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

func newAuditCmd() *cobra.Command {
	var (
		dir       string
		requestID string
		pageID    string
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the local audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv(logging.NewDiscardLogger())
			if dir == "" {
				dir = config.GetEnv("AUDIT_DIR", "./logs/audit")
			}
			f := audit.Filter{
				RequestID: requestID,
				PageID:    pageID,
				Type:      audit.EventType(eventType),
				Limit:     limit,
			}
			if f.Type != "" && !audit.ValidEventType(f.Type) {
				return fmt.Errorf("unknown event type %q", eventType)
			}

			store, err := audit.NewFileStore(dir)
			if err != nil {
				return err
			}
			entries, err := store.Query(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("query audit trail: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d entries\n", len(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "audit directory (default $AUDIT_DIR or ./logs/audit)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "only entries for this request")
	cmd.Flags().StringVar(&pageID, "page-id", "", "only entries for this page")
	cmd.Flags().StringVar(&eventType, "type", "", "only entries of this event type")
	cmd.Flags().IntVar(&limit, "limit", audit.MaxQueryResults, "maximum entries to print")
	return cmd
}
