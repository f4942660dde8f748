package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// maxPageWorkers caps parallel page extraction per document.
const maxPageWorkers = 4

type pageText struct {
	page int
	text string
}

// extractPDFText pulls the plain text out of a PDF, pages in parallel,
// concatenated in page order. Pages with no text layer are skipped.
func extractPDFText(ctx context.Context, content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := pdfReader.NumPage()

	g, ctx := errgroup.WithContext(ctx)
	pageChan := make(chan pageText, numPages)
	sem := make(chan struct{}, maxPageWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			if strings.TrimSpace(text) == "" {
				return nil
			}

			select {
			case pageChan <- pageText{page: pageNum, text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	go func() {
		g.Wait()
		close(pageChan)
	}()

	pages := make([]pageText, 0, numPages)
	for p := range pageChan {
		pages = append(pages, p)
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
