package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	var hashed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, hashed_password, image, role FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &hashed, &user.Image, &user.Role)
	if err != nil {
		return User{}, err
	}
	user.HashedPassword = hashed.String
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	var hashed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, hashed_password, image, role FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &hashed, &user.Image, &user.Role)
	if err != nil {
		return User{}, err
	}
	user.HashedPassword = hashed.String
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	var hashed any
	if user.HashedPassword != "" {
		hashed = user.HashedPassword
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, hashed_password, image, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.Name, hashed, user.Image, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// EnsureFederatedUser fetches the user for an upstream-verified identity,
// creating a member account on first sign-in. The stored role wins for
// returning users; promotion to admin happens out-of-band.
func (s *PostgresStore) EnsureFederatedUser(ctx context.Context, id, email, name, image string) (User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	user = User{ID: id, Email: email, Name: name, Image: image, Role: "member"}
	if err := s.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// --- Refresh sessions (Postgres fallback when Redis is not configured) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.image, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- Acts ---

func (s *PostgresStore) ListActs(ctx context.Context) ([]Act, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, category, jurisdiction FROM acts ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list acts: %w", err)
	}
	defer rows.Close()

	items := make([]Act, 0)
	for rows.Next() {
		var item Act
		if err := rows.Scan(&item.ID, &item.Title, &item.Category, &item.Jurisdiction); err != nil {
			return nil, fmt.Errorf("scan act: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAct(ctx context.Context, actID int64) (Act, error) {
	var item Act
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, category, jurisdiction FROM acts WHERE id=$1
	`, actID).Scan(&item.ID, &item.Title, &item.Category, &item.Jurisdiction)
	if err != nil {
		return Act{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertAct(ctx context.Context, title, category, jurisdiction string) (Act, error) {
	var item Act
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO acts (title, category, jurisdiction)
		VALUES ($1, $2, $3)
		RETURNING id, title, category, jurisdiction
	`, title, category, jurisdiction).Scan(&item.ID, &item.Title, &item.Category, &item.Jurisdiction)
	if err != nil {
		return Act{}, fmt.Errorf("insert act: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateAct(ctx context.Context, actID int64, title, category, jurisdiction string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE acts SET title=$2, category=$3, jurisdiction=$4 WHERE id=$1
	`, actID, title, category, jurisdiction)
	if err != nil {
		return fmt.Errorf("update act: %w", err)
	}
	return requireRow(result)
}

// DeleteActCascade removes an act and its sections in one transaction.
func (s *PostgresStore) DeleteActCascade(ctx context.Context, actID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete act: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE act_id=$1`, actID); err != nil {
		return fmt.Errorf("delete sections: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM acts WHERE id=$1`, actID)
	if err != nil {
		return fmt.Errorf("delete act: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Sections ---

func (s *PostgresStore) ListSections(ctx context.Context, actID int64) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, act_id, section_number, legal_text, simplified_explanation
		FROM sections
		WHERE act_id=$1
		ORDER BY id ASC
	`, actID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		var item Section
		if err := rows.Scan(&item.ID, &item.ActID, &item.SectionNumber, &item.LegalText, &item.SimplifiedExplanation); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertSection(ctx context.Context, actID int64, number, legalText, simplified string) (Section, error) {
	var item Section
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sections (act_id, section_number, legal_text, simplified_explanation)
		VALUES ($1, $2, $3, $4)
		RETURNING id, act_id, section_number, legal_text, simplified_explanation
	`, actID, number, legalText, simplified).Scan(&item.ID, &item.ActID, &item.SectionNumber, &item.LegalText, &item.SimplifiedExplanation)
	if err != nil {
		return Section{}, fmt.Errorf("insert section: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateSection(ctx context.Context, sectionID int64, number, legalText, simplified string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sections SET section_number=$2, legal_text=$3, simplified_explanation=$4 WHERE id=$1
	`, sectionID, number, legalText, simplified)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteSection(ctx context.Context, sectionID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sections WHERE id=$1`, sectionID)
	if err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	return requireRow(result)
}

// --- Scenarios ---

func (s *PostgresStore) ListScenarios(ctx context.Context) ([]Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, difficulty_level, start_node_id
		FROM scenarios
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	items := make([]Scenario, 0)
	for rows.Next() {
		var item Scenario
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.DifficultyLevel, &item.StartNodeID); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetScenario(ctx context.Context, scenarioID int64) (Scenario, error) {
	var item Scenario
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, difficulty_level, start_node_id
		FROM scenarios
		WHERE id=$1
	`, scenarioID).Scan(&item.ID, &item.Title, &item.Description, &item.DifficultyLevel, &item.StartNodeID)
	if err != nil {
		return Scenario{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertScenario(ctx context.Context, title, description, difficulty string) (Scenario, error) {
	var item Scenario
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scenarios (title, description, difficulty_level)
		VALUES ($1, $2, $3)
		RETURNING id, title, description, difficulty_level, start_node_id
	`, title, description, difficulty).Scan(&item.ID, &item.Title, &item.Description, &item.DifficultyLevel, &item.StartNodeID)
	if err != nil {
		return Scenario{}, fmt.Errorf("insert scenario: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateScenario(ctx context.Context, scenarioID int64, title, description, difficulty string, startNodeID *int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scenarios SET title=$2, description=$3, difficulty_level=$4, start_node_id=$5 WHERE id=$1
	`, scenarioID, title, description, difficulty, startNodeID)
	if err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	return requireRow(result)
}

// DeleteScenarioCascade removes a scenario, its nodes, and every option
// attached to those nodes in one transaction.
func (s *PostgresStore) DeleteScenarioCascade(ctx context.Context, scenarioID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete scenario: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM node_options
		WHERE current_node_id IN (SELECT id FROM scenario_nodes WHERE scenario_id=$1)
	`, scenarioID); err != nil {
		return fmt.Errorf("delete scenario options: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_nodes WHERE scenario_id=$1`, scenarioID); err != nil {
		return fmt.Errorf("delete scenario nodes: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM scenarios WHERE id=$1`, scenarioID)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Nodes ---

func (s *PostgresStore) ListNodes(ctx context.Context, scenarioID int64) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_id, content_text, is_outcome
		FROM scenario_nodes
		WHERE scenario_id=$1
		ORDER BY id ASC
	`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	items := make([]Node, 0)
	for rows.Next() {
		var item Node
		if err := rows.Scan(&item.ID, &item.ScenarioID, &item.ContentText, &item.IsOutcome); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNode(ctx context.Context, nodeID int64) (Node, error) {
	var item Node
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, content_text, is_outcome FROM scenario_nodes WHERE id=$1
	`, nodeID).Scan(&item.ID, &item.ScenarioID, &item.ContentText, &item.IsOutcome)
	if err != nil {
		return Node{}, err
	}
	return item, nil
}

// StartNode resolves a scenario's entry point: the explicit start_node_id when
// set and still present, otherwise the lowest-id node of the scenario.
func (s *PostgresStore) StartNode(ctx context.Context, scenario Scenario) (Node, error) {
	if scenario.StartNodeID != nil {
		node, err := s.GetNode(ctx, *scenario.StartNodeID)
		if err == nil && node.ScenarioID == scenario.ID {
			return node, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Node{}, err
		}
	}

	var item Node
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, content_text, is_outcome
		FROM scenario_nodes
		WHERE scenario_id=$1
		ORDER BY id ASC
		LIMIT 1
	`, scenario.ID).Scan(&item.ID, &item.ScenarioID, &item.ContentText, &item.IsOutcome)
	if err != nil {
		return Node{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertNode(ctx context.Context, scenarioID int64, contentText string, isOutcome bool) (Node, error) {
	var item Node
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scenario_nodes (scenario_id, content_text, is_outcome)
		VALUES ($1, $2, $3)
		RETURNING id, scenario_id, content_text, is_outcome
	`, scenarioID, contentText, isOutcome).Scan(&item.ID, &item.ScenarioID, &item.ContentText, &item.IsOutcome)
	if err != nil {
		return Node{}, fmt.Errorf("insert node: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateNode(ctx context.Context, nodeID int64, contentText string, isOutcome bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scenario_nodes SET content_text=$2, is_outcome=$3 WHERE id=$1
	`, nodeID, contentText, isOutcome)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	return requireRow(result)
}

// DeleteNodeCascade removes a node together with every option that leaves it
// or points at it, so no dangling edges survive the delete.
func (s *PostgresStore) DeleteNodeCascade(ctx context.Context, nodeID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete node: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM node_options WHERE current_node_id=$1 OR next_node_id=$1
	`, nodeID); err != nil {
		return fmt.Errorf("delete node options: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM scenario_nodes WHERE id=$1`, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Options ---

func (s *PostgresStore) ListOptions(ctx context.Context, nodeID int64) ([]Option, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, current_node_id, option_text, next_node_id, related_section_id
		FROM node_options
		WHERE current_node_id=$1
		ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	items := make([]Option, 0)
	for rows.Next() {
		var item Option
		if err := rows.Scan(&item.ID, &item.CurrentNodeID, &item.OptionText, &item.NextNodeID, &item.RelatedSectionID); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertOption(ctx context.Context, nodeID int64, optionText string, nextNodeID int64, relatedSectionID *int64) (Option, error) {
	var item Option
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO node_options (current_node_id, option_text, next_node_id, related_section_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, current_node_id, option_text, next_node_id, related_section_id
	`, nodeID, optionText, nextNodeID, relatedSectionID).Scan(&item.ID, &item.CurrentNodeID, &item.OptionText, &item.NextNodeID, &item.RelatedSectionID)
	if err != nil {
		return Option{}, fmt.Errorf("insert option: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateOption(ctx context.Context, optionID int64, optionText string, nextNodeID int64, relatedSectionID *int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_options SET option_text=$2, next_node_id=$3, related_section_id=$4 WHERE id=$1
	`, optionID, optionText, nextNodeID, relatedSectionID)
	if err != nil {
		return fmt.Errorf("update option: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteOption(ctx context.Context, optionID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM node_options WHERE id=$1`, optionID)
	if err != nil {
		return fmt.Errorf("delete option: %w", err)
	}
	return requireRow(result)
}

// --- Admin stats ---

func (s *PostgresStore) SummaryCounts(ctx context.Context) (users, scenarios, acts int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM scenarios),
			(SELECT COUNT(*) FROM acts)
	`).Scan(&users, &scenarios, &acts)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return users, scenarios, acts, nil
}

// --- Bulk library seed ---

// SeedLibrary replaces the whole reference library inside one transaction:
// truncate, insert every act with its sections, resync the id sequences.
// Any failure rolls the store back to its prior state.
func (s *PostgresStore) SeedLibrary(ctx context.Context, dataset []SeedAct) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE acts, sections RESTART IDENTITY CASCADE`); err != nil {
		return 0, fmt.Errorf("truncate library: %w", err)
	}

	for _, act := range dataset {
		var actID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO acts (title, category, jurisdiction)
			VALUES ($1, $2, $3)
			RETURNING id
		`, act.Title, act.Category, act.Jurisdiction).Scan(&actID)
		if err != nil {
			return 0, fmt.Errorf("seed act %q: %w", act.Title, err)
		}

		for _, section := range act.Sections {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sections (act_id, section_number, legal_text, simplified_explanation)
				VALUES ($1, $2, $3, $4)
			`, actID, section.Number, section.Text, section.Simple); err != nil {
				return 0, fmt.Errorf("seed section %q of %q: %w", section.Number, act.Title, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `SELECT setval('acts_id_seq', (SELECT COALESCE(MAX(id), 1) FROM acts))`); err != nil {
		return 0, fmt.Errorf("resync acts sequence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT setval('sections_id_seq', (SELECT COALESCE(MAX(id), 1) FROM sections))`); err != nil {
		return 0, fmt.Errorf("resync sections sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(dataset), nil
}

// requireRow maps zero-row writes onto sql.ErrNoRows so handlers answer 404.
func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
