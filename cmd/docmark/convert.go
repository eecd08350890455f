package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/docmark"
)

var convertCmd = &cobra.Command{
	Use:   "convert <path>",
	Short: "Convert a document to Markdown",
	Long: `Convert reads a document and writes its Markdown rendition to stdout or to
the file given with -o. Use "-" to read from stdin; --format then names the
input format unless the content can be sniffed.

Extracted images are written next to the output file (or to --images-dir)
under the names the Markdown references.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		out, _ := flags.GetString("output")
		imagesDir, _ := flags.GetString("images-dir")
		asJSON, _ := flags.GetBool("json")
		format, _ := flags.GetString("format")

		var opts []docmark.ConvertOption
		if flags.Changed("merge-tables") {
			v, _ := flags.GetBool("merge-tables")
			opts = append(opts, docmark.WithMergeTables(v))
		}
		if flags.Changed("force-ocr") {
			v, _ := flags.GetBool("force-ocr")
			opts = append(opts, docmark.WithForceOCR(v))
		}
		if flags.Changed("no-images") {
			v, _ := flags.GetBool("no-images")
			opts = append(opts, docmark.WithExtractImages(!v))
		}
		if format != "" {
			opts = append(opts, docmark.WithExtension(format))
		}

		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		var doc *docmark.Document
		if args[0] == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			doc, err = engine.ConvertBytes(cmd.Context(), data, "", opts...)
			if err != nil {
				return err
			}
		} else {
			doc, err = engine.Convert(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
		}

		if imagesDir == "" && out != "" {
			imagesDir = filepath.Dir(out)
		}
		return writeResult(doc, cmd.OutOrStdout(), out, imagesDir, asJSON)
	},
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "write Markdown to this file instead of stdout")
	convertCmd.Flags().String("images-dir", "", "directory for extracted images (default: next to --output)")
	convertCmd.Flags().String("format", "", "input format, overriding the file extension (e.g. docx)")
	convertCmd.Flags().Bool("merge-tables", false, "merge tables continued across pages")
	convertCmd.Flags().Bool("force-ocr", false, "describe every PDF page from its rendered image")
	convertCmd.Flags().Bool("no-images", false, "skip image extraction")
	convertCmd.Flags().Bool("json", false, "print the document as JSON instead of Markdown")

	rootCmd.AddCommand(convertCmd)
}

type jsonDocument struct {
	*docmark.Document
	Markdown string `json:"markdown"`
}

// writeResult writes the Markdown (or JSON) to out, or to stdout when out
// is empty, and saves the document's images into imagesDir when set.
func writeResult(doc *docmark.Document, stdout io.Writer, out, imagesDir string, asJSON bool) error {
	var body []byte
	if asJSON {
		b, err := json.MarshalIndent(jsonDocument{Document: doc, Markdown: doc.Markdown()}, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding document: %w", err)
		}
		body = append(b, '\n')
	} else {
		body = []byte(doc.Markdown())
	}

	if out == "" {
		if _, err := stdout.Write(body); err != nil {
			return err
		}
	} else if err := os.WriteFile(out, body, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if imagesDir == "" {
		return nil
	}
	images := doc.Images()
	if len(images) == 0 {
		return nil
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return fmt.Errorf("creating images dir: %w", err)
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(imagesDir, img.FileName()), img.Data, 0o644); err != nil {
			return fmt.Errorf("writing image %s: %w", img.ID, err)
		}
	}
	return nil
}
