package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stakbuild/docmatch/internal/model"
	"github.com/stakbuild/docmatch/internal/processor"
)

// predictOutput is what predict prints.
type predictOutput struct {
	Project     model.ProjectPrediction `json:"project"`
	VendorGuess model.RawVendorGuess    `json:"vendor_guess"`
	Vendor      model.VendorPrediction  `json:"vendor"`
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict project and vendor for an extraction without storing it",
	Long: `Predict reads an extraction result as JSON, shaped as
{"full_text": "...", "entities": [...]}, and prints the project and vendor
predictions for the given company.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		path, _ := cmd.Flags().GetString("file")

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var ext model.Extraction
		if err := json.Unmarshal(raw, &ext); err != nil {
			return fmt.Errorf("parse extraction %s: %w", path, err)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		var out predictOutput
		if out.Project, err = a.Processor.PredictProject(cmd.Context(), company, ext.Entities, ext.FullText); err != nil {
			return err
		}
		if out.VendorGuess, out.Vendor, err = a.Processor.PredictVendor(cmd.Context(), company, ext.Entities, ext.FullText); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract, predict and store documents",
	Long: `Ingest extracts, predicts and stores the files given with --file (repeatable)
and every regular file directly inside --dir. A single file prints its
document record; several files are processed as one batch and print one
entry per file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		paths, _ := cmd.Flags().GetStringSlice("file")
		dir, _ := cmd.Flags().GetString("dir")
		kindFlag, _ := cmd.Flags().GetString("kind")
		kind := model.DocKind(kindFlag)
		if !kind.Valid() {
			return fmt.Errorf("invalid kind %q", kind)
		}

		if dir != "" {
			found, err := filesIn(dir)
			if err != nil {
				return err
			}
			paths = append(paths, found...)
		}
		if len(paths) == 0 {
			return errors.New("nothing to ingest: pass --file or --dir")
		}

		uploads := make([]processor.Upload, 0, len(paths))
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			uploads = append(uploads, processor.Upload{Name: path, Kind: kind, MimeType: http.DetectContentType(data), Data: data})
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if len(uploads) == 1 {
			up := uploads[0]
			doc, err := a.Processor.Ingest(cmd.Context(), company, up.Kind, up.MimeType, up.Data)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		}

		results, err := a.Processor.IngestBatch(cmd.Context(), company, uploads)
		if err != nil {
			return err
		}
		out := make([]ingestOutput, len(results))
		failed := 0
		for i, res := range results {
			out[i] = ingestOutput{File: uploads[i].Name, Document: res.Document}
			if res.Err != nil {
				out[i].Error = res.Err.Error()
				failed++
			}
		}
		if err := printJSON(cmd, out); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(results))
		}
		return nil
	},
}

// ingestOutput is one entry of a batch ingest.
type ingestOutput struct {
	File     string                `json:"file"`
	Document *model.DocumentRecord `json:"document,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// filesIn lists the regular, non-hidden files directly inside dir in name
// order.
func filesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func init() {
	predictCmd.Flags().String("company", "", "company id")
	predictCmd.Flags().String("file", "", "extraction JSON file")
	_ = predictCmd.MarkFlagRequired("company")
	_ = predictCmd.MarkFlagRequired("file")

	ingestCmd.Flags().String("company", "", "company id")
	ingestCmd.Flags().StringSlice("file", nil, "PDF or image to ingest (repeatable)")
	ingestCmd.Flags().String("dir", "", "directory whose files are ingested as one batch")
	ingestCmd.Flags().String("kind", string(model.KindInvoice), "invoice, client_bill_invoice or contract")
	_ = ingestCmd.MarkFlagRequired("company")

	rootCmd.AddCommand(predictCmd, ingestCmd)
}
