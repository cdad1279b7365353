package crawl

import (
	"sort"

	"github.com/kyrt-project/courtcrawler/internal/model"
)

// SearchTask pairs one tracked company with one of its name variations.
// Tasks are ephemeral: generated fresh each run, never persisted.
type SearchTask struct {
	Company model.Company
	Alias   string
}

// ExpandQueries turns tracked companies into the ordered list of search
// tasks for a run. Per company the canonical name and every alias are
// deduplicated and sorted by descending string length: longer, more specific
// strings first, so generic substrings are tried last. Companies are ordered
// by canonical name for a deterministic, resumable run order.
func ExpandQueries(companies []model.Company) []SearchTask {
	sorted := append([]model.Company(nil), companies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var tasks []SearchTask
	for _, company := range sorted {
		seen := make(map[string]struct{}, len(company.Aliases)+1)
		variations := make([]string, 0, len(company.Aliases)+1)
		for _, name := range append([]string{company.Name}, company.Aliases...) {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			variations = append(variations, name)
		}
		// Stable so equal-length variations keep their original order.
		sort.SliceStable(variations, func(i, j int) bool {
			return len(variations[i]) > len(variations[j])
		})
		for _, v := range variations {
			tasks = append(tasks, SearchTask{Company: company, Alias: v})
		}
	}
	return tasks
}
