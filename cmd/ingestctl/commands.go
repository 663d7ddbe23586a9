package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// pipeline is the part of the ingestor the CLI drives.
type pipeline interface {
	Ingest(ctx context.Context, p *models.UploadPayload) (*models.IngestResult, error)
	Reingest(ctx context.Context, documentID string) (*models.IngestResult, error)
	ReingestMatching(ctx context.Context, filter models.DocumentFilter) (*models.BulkResult, error)
}

type opener func(ctx context.Context, verbose bool) (pipeline, func(), error)

func newRootCmd(open opener) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Run document ingestion from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "human-readable debug logging")

	withPipeline := func(run func(cmd *cobra.Command, p pipeline, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			p, closeFn, err := open(cmd.Context(), verbose)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, p, args)
		}
	}

	root.AddCommand(newIngestCmd(withPipeline), newReingestCmd(withPipeline), newReingestAllCmd(withPipeline))
	return root
}

type wrapFunc func(run func(cmd *cobra.Command, p pipeline, args []string) error) func(*cobra.Command, []string) error

func newIngestCmd(wrap wrapFunc) *cobra.Command {
	var (
		title, owner, org, event, contentType string
		tags                                  []string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest one file and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: wrap(func(cmd *cobra.Command, p pipeline, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(name))
			}
			if title == "" {
				title = strings.TrimSuffix(name, filepath.Ext(name))
			}
			res, err := p.Ingest(cmd.Context(), &models.UploadPayload{
				Title:          title,
				OwnerID:        owner,
				OrganizationID: org,
				EventID:        event,
				Tags:           tags,
				FileName:       name,
				ContentType:    contentType,
				Data:           data,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (defaults to the file name)")
	cmd.Flags().StringVar(&owner, "owner", "", "uploader id")
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&event, "event", "", "event id")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	return cmd
}

func newReingestCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reingest <document-id>",
		Short: "Rebuild the chunks of one document",
		Args:  cobra.ExactArgs(1),
		RunE: wrap(func(cmd *cobra.Command, p pipeline, args []string) error {
			res, err := p.Reingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
}

func newReingestAllCmd(wrap wrapFunc) *cobra.Command {
	var org, event, status string
	cmd := &cobra.Command{
		Use:   "reingest-all",
		Short: "Rebuild every document matching the filter",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch models.DocumentStatus(status) {
			case "", models.StatusPending, models.StatusIngesting, models.StatusIngested, models.StatusFailed:
				return nil
			default:
				return fmt.Errorf("unknown status %q", status)
			}
		},
		RunE: wrap(func(cmd *cobra.Command, p pipeline, args []string) error {
			res, err := p.ReingestMatching(cmd.Context(), models.DocumentFilter{
				OrganizationID: org,
				EventID:        event,
				Status:         models.DocumentStatus(status),
			})
			if res != nil {
				if perr := printJSON(cmd, res); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&event, "event", "", "event id")
	cmd.Flags().StringVar(&status, "status", "", "only documents in this status")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
