package store

import "time"

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	HashedPassword string    `json:"-"`
	Image          string    `json:"image,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

type Act struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Jurisdiction string `json:"jurisdiction"`
}

type Section struct {
	ID                    int64  `json:"id"`
	ActID                 int64  `json:"act_id"`
	SectionNumber         string `json:"section_number"`
	LegalText             string `json:"legal_text"`
	SimplifiedExplanation string `json:"simplified_explanation"`
}

type Scenario struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DifficultyLevel string `json:"difficulty_level"`
	StartNodeID     *int64 `json:"start_node_id,omitempty"`
}

type Node struct {
	ID          int64  `json:"id"`
	ScenarioID  int64  `json:"scenario_id"`
	ContentText string `json:"content_text"`
	IsOutcome   bool   `json:"is_outcome"`
}

// Option is a labeled edge out of a node. RelatedSectionID optionally points
// into the reference library.
type Option struct {
	ID               int64  `json:"id"`
	CurrentNodeID    int64  `json:"current_node_id"`
	OptionText       string `json:"option_text"`
	NextNodeID       int64  `json:"next_node_id"`
	RelatedSectionID *int64 `json:"related_section_id"`
}

// SeedAct and SeedSection mirror the embedded library dataset.
type SeedAct struct {
	Title        string        `json:"title"`
	Category     string        `json:"category"`
	Jurisdiction string        `json:"jurisdiction"`
	Sections     []SeedSection `json:"sections"`
}

type SeedSection struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Simple string `json:"simple"`
}
