// Package ocr turns uploaded images and PDFs into text.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/studybuddy/internal/staging"
)

// Separator joins the text of consecutive images.
const Separator = "\n\n---\n\n"

// DefaultConcurrency bounds parallel annotate calls per request.
const DefaultConcurrency = 4

// Annotator recognizes text in one image.
type Annotator interface {
	Annotate(ctx context.Context, image []byte) (string, error)
}

// Extractor recognizes text across a batch of uploads.
// PDFs are rasterized and every page is annotated separately.
type Extractor struct {
	annotator   Annotator
	rasterize   func([]byte) ([][]byte, error)
	concurrency int
	log         *logrus.Logger
}

// NewExtractor creates an Extractor backed by annotator.
func NewExtractor(annotator Annotator, log *logrus.Logger) *Extractor {
	return &Extractor{
		annotator:   annotator,
		rasterize:   RasterizePDF,
		concurrency: DefaultConcurrency,
		log:         log,
	}
}

// IsPDF reports whether f should be rasterized before annotation.
func IsPDF(f staging.File) bool {
	return strings.HasSuffix(strings.ToLower(f.Name), ".pdf") || f.ContentType == "application/pdf"
}

// Extract annotates every image in files and joins the results in upload
// order (pages in page order). The first failure cancels the rest.
func (e *Extractor) Extract(ctx context.Context, files []staging.File) (string, error) {
	var images [][]byte
	for _, f := range files {
		if !IsPDF(f) {
			images = append(images, f.Data)
			continue
		}
		pages, err := e.rasterize(f.Data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", f.Name, err)
		}
		e.log.WithFields(logrus.Fields{"op": "extract", "file": f.Name, "pages": len(pages)}).Debug("rasterized pdf")
		images = append(images, pages...)
	}

	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := e.annotator.Annotate(gctx, img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(texts, Separator), nil
}
