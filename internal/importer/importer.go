// Package importer loads tracked companies from operator-provided CSV
// files into the store.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/store"
)

// NormalizeName canonicalizes a company name the way the court sites index
// them: upper case, trimmed, and without the comma before a legal suffix.
func NormalizeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, ", LLC", " LLC")
	name = strings.ReplaceAll(name, ", INC", " INC")
	return strings.Join(strings.Fields(name), " ")
}

// ImportCSV upserts one company per row. The first column is the canonical
// name; any further columns are aliases. A leading header row is skipped.
// Returns the number of companies imported.
func ImportCSV(ctx context.Context, st store.Store, r io.Reader, logger *zap.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	count := 0
	seen := make(map[string]struct{})
	for row := 0; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read csv row %d: %w", row+1, err)
		}
		if len(rec) == 0 {
			continue
		}
		if row == 0 && looksLikeHeader(rec[0]) {
			continue
		}
		name := NormalizeName(rec[0])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			logger.Debug("Skipping duplicate company row", zap.String("name", name))
			continue
		}
		seen[name] = struct{}{}

		var aliases []string
		for _, raw := range rec[1:] {
			alias := NormalizeName(raw)
			if alias == "" || alias == name {
				continue
			}
			aliases = append(aliases, alias)
		}

		if _, err := st.ImportCompany(ctx, name, aliases); err != nil {
			return count, fmt.Errorf("import company %q: %w", name, err)
		}
		count++
	}

	logger.Info("Imported companies", zap.Int("count", count))
	return count, nil
}

func looksLikeHeader(cell string) bool {
	lower := strings.ToLower(cell)
	return strings.Contains(lower, "name") || strings.Contains(lower, "company")
}
