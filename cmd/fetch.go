package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

func newThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <url>",
		Short: "Fetches a discussion thread's JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			o := appInstance.GetOrchestrator()
			res, err := o.Thread(cmd.Context(), o.NewRequest(extract.SourceThread, args[0], 0))
			return printOutcome(cmd.OutOrStdout(), res, err)
		},
	}
}

func newReviewsCmd() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "reviews <url>",
		Short: "Collects a product's most recent reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			o := appInstance.GetOrchestrator()
			res, err := o.Listing(cmd.Context(), o.NewRequest(extract.SourceListing, args[0], pages))
			return printOutcome(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "number of listing pages to walk (default listing.default_pages)")
	return cmd
}

// failure is the JSON printed when an extraction fails.
type failure struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	URL        string `json:"url,omitempty"`
	Page       int    `json:"page,omitempty"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	ParseError string `json:"parseError,omitempty"`
	Preview    string `json:"bodyPreview,omitempty"`
}

func printOutcome(w io.Writer, result any, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err == nil {
		if encErr := enc.Encode(result); encErr != nil {
			return fmt.Errorf("encode result: %w", encErr)
		}
		return nil
	}

	f := failure{Error: err.Error(), Kind: string(extract.KindOf(err))}
	if e, ok := extract.AsError(err); ok {
		f.Error = e.Message
		f.URL = e.URL
		f.Page = e.Page
		f.HTTPStatus = e.HTTPStatus
		f.ParseError = e.ParseError
		f.Preview = e.Preview
	}
	if encErr := enc.Encode(f); encErr != nil {
		return fmt.Errorf("encode failure: %w", encErr)
	}
	return fmt.Errorf("extraction failed: %w", err)
}
