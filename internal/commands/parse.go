package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/insightdelivered/statement-viewer/internal/config"
	"github.com/insightdelivered/statement-viewer/internal/extractor"
	"github.com/insightdelivered/statement-viewer/internal/models"
	"github.com/insightdelivered/statement-viewer/internal/results"
	"github.com/insightdelivered/statement-viewer/internal/upload"
	"github.com/insightdelivered/statement-viewer/internal/writer"
)

type parseOptions struct {
	format    string
	exportDir string
	noHeader  bool
	now       func() time.Time
}

func newParseCommand(opts *options) *cobra.Command {
	po := &parseOptions{now: time.Now}

	cmd := &cobra.Command{
		Use:   "parse <statement.pdf> [more.pdf ...]",
		Short: "Send statement PDFs to the parsing service and print the fields",
		Example: `  # Analyze one statement
  statement-viewer parse statement.pdf

  # Print the raw service response
  statement-viewer parse --format json statement.pdf

  # Analyze several and save a JSON export of each
  statement-viewer parse --export-dir exports jan.pdf feb.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch po.format {
			case "text", "json", "csv":
			default:
				return fmt.Errorf("unknown format %q: use text, json or csv", po.format)
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := stderrLogger(cfg)
			uploader := upload.NewUploader(newClient(cfg, logger), logger)

			failed := 0
			for _, path := range args {
				if err := po.run(cmd, uploader, path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error processing %s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d statement(s) failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&po.format, "format", "f", "text", "output format: text, json or csv")
	cmd.Flags().StringVar(&po.exportDir, "export-dir", "", "write a JSON export of each successful result into this directory")
	cmd.Flags().BoolVar(&po.noHeader, "no-header", false, "omit the bank and method rows from CSV output")
	return cmd
}

func (po *parseOptions) run(cmd *cobra.Command, uploader *upload.Uploader, path string) error {
	out := cmd.OutOrStdout()

	file, err := readStatement(path)
	if err != nil {
		return err
	}

	if po.format == "text" {
		fmt.Fprintf(out, "Processing: %s\n", path)
		if upload.Validate(file) == nil {
			if info, err := extractor.Inspect(file.Data); err == nil {
				fmt.Fprintf(out, "  %s\n", describePreview(info))
			}
		}
	}

	res, err := uploader.Upload(cmd.Context(), file)
	if err != nil {
		return err
	}

	switch po.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	case "csv":
		if res.Success {
			w := &writer.CSVWriter{IncludeHeader: !po.noHeader}
			if err := w.Write(out, results.Render(&res)); err != nil {
				return err
			}
		}
	default:
		printView(out, results.Render(&res))
	}

	if !res.Success {
		return errors.New(res.ErrorText())
	}

	if po.exportDir != "" {
		name, body, err := results.ExportJSON(&res, po.now())
		if err != nil {
			return err
		}
		if err := os.MkdirAll(po.exportDir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		dest := filepath.Join(po.exportDir, name)
		if err := os.WriteFile(dest, body, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		if po.format == "text" {
			fmt.Fprintf(out, "  Exported: %s\n", dest)
		}
	}
	return nil
}

// readStatement loads a file the way a browser would hand it over. The
// content type is sniffed from the first bytes, and files over the upload
// limit are not read past what sniffing needs.
func readStatement(path string) (models.UploadFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.UploadFile{}, fmt.Errorf("input file not found: %s", path)
		}
		return models.UploadFile{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return models.UploadFile{}, err
	}
	if st.IsDir() {
		return models.UploadFile{}, fmt.Errorf("%s is a directory", path)
	}

	limit := st.Size()
	if limit > config.MaxUploadBytes {
		limit = 512
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return models.UploadFile{}, err
	}
	return models.UploadFile{
		Name: filepath.Base(path),
		Size: st.Size(),
		Data: data,
	}, nil
}

func describePreview(info *extractor.Info) string {
	method := results.MethodLabel(info.ExpectedMethod())
	if info.TextLayer {
		return fmt.Sprintf("%d page(s), text layer found (%s): %q", info.Pages, method, info.Sample)
	}
	return fmt.Sprintf("%d page(s), no text layer (%s expected)", info.Pages, method)
}

func printView(out io.Writer, view results.View) {
	if !view.Show {
		return
	}
	if !view.Success {
		fmt.Fprintf(out, "  Error: %s\n", view.Error)
		if view.Detail != "" {
			fmt.Fprintf(out, "  %s\n", view.Detail)
		}
		return
	}
	fmt.Fprintf(out, "  Bank: %s\n", view.Bank)
	fmt.Fprintf(out, "  Method: %s\n", view.Method)
	for _, f := range view.Fields {
		fmt.Fprintf(out, "  %-22s %s\n", f.Label+":", f.Value)
	}
	for _, w := range view.Warnings {
		fmt.Fprintf(out, "  Warning: %s\n", w)
	}
}
