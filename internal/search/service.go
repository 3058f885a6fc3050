package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexAct indexes an act (fire-and-forget to Meilisearch).
func (s *Service) IndexAct(act ActRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAct(act); err != nil {
			log.Printf("search: index act %d: %v", act.ID, err)
		}
	}()
}

// IndexSection indexes a section (fire-and-forget to Meilisearch).
func (s *Service) IndexSection(section SectionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSection(section); err != nil {
			log.Printf("search: index section %d: %v", section.ID, err)
		}
	}()
}

// DeleteAct removes an act from the search index (fire-and-forget).
func (s *Service) DeleteAct(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAct(id); err != nil {
			log.Printf("search: delete act %d: %v", id, err)
		}
	}()
}

// DeleteSection removes a section from the search index (fire-and-forget).
func (s *Service) DeleteSection(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSection(id); err != nil {
			log.Printf("search: delete section %d: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes the whole library from PostgreSQL into
// Meilisearch. Called after bulk seeds so the index tracks the new dataset.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	acts, sections, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(acts) > 0 {
		if err := s.meili.IndexActs(acts); err != nil {
			log.Printf("search: reindex acts: %v", err)
		}
	}
	if len(sections) > 0 {
		if err := s.meili.IndexSections(sections); err != nil {
			log.Printf("search: reindex sections: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
