package pipeline

import (
	"errors"
	"fmt"
	"os"

	"github.com/trobanga/pacsbatch/internal/dimse"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
	"github.com/trobanga/pacsbatch/internal/services"
)

// ExpandRequests turns the template plus an optional variation table into the work list.
// Every column of the table is an attribute path; each row yields one record with the
// row's cells upserted into the template elements. Without a table the work list is the
// template alone. Records are returned in canonical form.
func ExpandRequests(template models.Request, variationFile string) ([]models.Request, error) {
	if variationFile == "" {
		return []models.Request{template.Canonical()}, nil
	}

	header, rows, err := services.ReadTable(variationFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, lib.ErrVariationTableMissing(variationFile)
	}
	if err != nil {
		return nil, lib.ErrVariationTableInvalid(variationFile, err)
	}
	if len(header) == 0 {
		return nil, lib.ErrVariationTableInvalid(variationFile, errors.New("missing header row"))
	}

	for _, column := range header {
		if _, err := dimse.ParsePath(column); err != nil {
			return nil, lib.ErrUnresolvablePath(column, err)
		}
	}

	work := make([]models.Request, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, lib.ErrVariationTableInvalid(variationFile,
				fmt.Errorf("line %d: got %d cells, want %d", i+2, len(row), len(header)))
		}
		r := template
		for col, cell := range row {
			r = r.WithElement(header[col] + "=" + cell)
		}
		work = append(work, r.Canonical())
	}
	return work, nil
}
