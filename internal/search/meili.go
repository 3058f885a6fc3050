package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxActs     = "lokvidhi_acts"
	idxSections = "lokvidhi_sections"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The service
// keeps running without it if the initial connection fails; the health loop
// picks it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxActs,
			filterable: []string{"category", "jurisdiction"},
			searchable: []string{"title", "category", "jurisdiction"},
		},
		{
			uid:        idxSections,
			filterable: []string{"actId"},
			searchable: []string{"sectionNumber", "legalText", "simplifiedExplanation", "actTitle"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxActs, ResultAct},
		{idxSections, ResultSection},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if q.FilterActID != 0 && ti.rtyp == ResultSection {
			sr.Filter = []string{fmt.Sprintf("actId = %d", q.FilterActID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxActs:
		return ResultAct
	case idxSections:
		return ResultSection
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeInt64(hit, "id")

	switch rtyp {
	case ResultAct:
		r.ActID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "category"), decodeString(hit, "category"))
	case ResultSection:
		r.ActID = decodeInt64(hit, "actId")
		number := firstNonBlank(decodeFormattedString(hit, "sectionNumber"), decodeString(hit, "sectionNumber"))
		actTitle := decodeString(hit, "actTitle")
		r.Title = strings.TrimSpace(actTitle + " " + number)
		r.Snippet = firstNonBlank(
			decodeFormattedString(hit, "simplifiedExplanation"),
			decodeString(hit, "simplifiedExplanation"),
			decodeString(hit, "legalText"),
		)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexAct adds or updates an act in the search index.
func (m *Meili) IndexAct(act ActRecord) error {
	_, err := m.client.Index(idxActs).AddDocuments([]ActRecord{act}, nil)
	return err
}

// IndexSection adds or updates a section in the search index.
func (m *Meili) IndexSection(section SectionRecord) error {
	_, err := m.client.Index(idxSections).AddDocuments([]SectionRecord{section}, nil)
	return err
}

// DeleteAct removes an act from the search index.
func (m *Meili) DeleteAct(id int64) error {
	_, err := m.client.Index(idxActs).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}

// DeleteSection removes a section from the search index.
func (m *Meili) DeleteSection(id int64) error {
	_, err := m.client.Index(idxSections).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}

// IndexActs bulk-indexes acts.
func (m *Meili) IndexActs(acts []ActRecord) error {
	if len(acts) == 0 {
		return nil
	}
	_, err := m.client.Index(idxActs).AddDocuments(acts, nil)
	return err
}

// IndexSections bulk-indexes sections.
func (m *Meili) IndexSections(sections []SectionRecord) error {
	if len(sections) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSections).AddDocuments(sections, nil)
	return err
}
