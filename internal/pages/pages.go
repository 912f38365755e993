// Package pages builds the ordered PageTask list the ledger is
// initialized from, either by expanding a paginated URL template or by
// loading an externally supplied ordered URL list.
package pages

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/listinglab/pagepull/internal/fetch"
)

// PagePlaceholder is substituted with the page number when expanding a
// base URL template.
const PagePlaceholder = "{page_number}"

// Plan describes how to enumerate one website's pages.
type Plan struct {
	// BaseURLTemplate contains PagePlaceholder, e.g.
	// "https://example.com/listings?page={page_number}".
	BaseURLTemplate string
	// FirstURL is used verbatim for page 1 when set; many sites have an
	// un-parameterized first page.
	FirstURL string
	// PageIncrement is the step between consecutive page numbers.
	PageIncrement int
	// LastPageNumber is the final page index, inclusive.
	LastPageNumber int
}

// Build expands the plan into one PageTask per page in pagination order.
func Build(plan Plan) ([]fetch.PageTask, error) {
	if plan.LastPageNumber < 1 {
		return nil, fmt.Errorf("last page number must be >= 1, got %d", plan.LastPageNumber)
	}
	if plan.PageIncrement <= 0 {
		plan.PageIncrement = 1
	}
	if plan.BaseURLTemplate == "" && plan.FirstURL == "" {
		return nil, fmt.Errorf("either a base url template or a first url is required")
	}
	if plan.BaseURLTemplate != "" && !strings.Contains(plan.BaseURLTemplate, PagePlaceholder) {
		return nil, fmt.Errorf("base url template must contain %s", PagePlaceholder)
	}

	tasks := make([]fetch.PageTask, 0, plan.LastPageNumber)
	pageNumber := 0
	for i := 1; i <= plan.LastPageNumber; i++ {
		var url string
		pageNumber += plan.PageIncrement
		if i == 1 && plan.FirstURL != "" {
			url = plan.FirstURL
		} else {
			url = strings.ReplaceAll(plan.BaseURLTemplate, PagePlaceholder, strconv.Itoa(pageNumber))
		}
		tasks = append(tasks, fetch.PageTask{URL: url, PageIndex: i})
	}
	return tasks, nil
}

// LoadCSV reads an ordered URL list from a CSV file, taking values from
// the named column. Duplicate URLs keep their first position.
func LoadCSV(path, column string) ([]fetch.PageTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read url list header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("url list %s has no column %q", path, column)
	}

	seen := make(map[string]struct{})
	var tasks []fetch.PageTask
	index := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read url list row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		url := strings.TrimSpace(row[col])
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		index++
		tasks = append(tasks, fetch.PageTask{URL: url, PageIndex: index})
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("url list %s contains no urls", path)
	}
	return tasks, nil
}
