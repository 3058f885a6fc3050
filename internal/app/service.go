package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lokvidhi/api/internal/auth"
	"lokvidhi/api/internal/authpw"
	"lokvidhi/api/internal/calculator"
	"lokvidhi/api/internal/chatbot"
	"lokvidhi/api/internal/config"
	"lokvidhi/api/internal/rbac"
	"lokvidhi/api/internal/search"
	"lokvidhi/api/internal/seed"
	"lokvidhi/api/internal/store"
	"lokvidhi/api/internal/util"
)

// Session is an authenticated caller: the signed access token plus the
// identity it resolved to.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	ListActs(ctx context.Context) ([]store.Act, error)
	GetAct(ctx context.Context, actID int64) (store.Act, error)
	InsertAct(ctx context.Context, title, category, jurisdiction string) (store.Act, error)
	UpdateAct(ctx context.Context, actID int64, title, category, jurisdiction string) error
	DeleteActCascade(ctx context.Context, actID int64) error
	ListSections(ctx context.Context, actID int64) ([]store.Section, error)
	InsertSection(ctx context.Context, actID int64, number, legalText, simplified string) (store.Section, error)
	UpdateSection(ctx context.Context, sectionID int64, number, legalText, simplified string) error
	DeleteSection(ctx context.Context, sectionID int64) error

	ListScenarios(ctx context.Context) ([]store.Scenario, error)
	GetScenario(ctx context.Context, scenarioID int64) (store.Scenario, error)
	InsertScenario(ctx context.Context, title, description, difficulty string) (store.Scenario, error)
	UpdateScenario(ctx context.Context, scenarioID int64, title, description, difficulty string, startNodeID *int64) error
	DeleteScenarioCascade(ctx context.Context, scenarioID int64) error
	ListNodes(ctx context.Context, scenarioID int64) ([]store.Node, error)
	GetNode(ctx context.Context, nodeID int64) (store.Node, error)
	StartNode(ctx context.Context, scenario store.Scenario) (store.Node, error)
	InsertNode(ctx context.Context, scenarioID int64, contentText string, isOutcome bool) (store.Node, error)
	UpdateNode(ctx context.Context, nodeID int64, contentText string, isOutcome bool) error
	DeleteNodeCascade(ctx context.Context, nodeID int64) error
	ListOptions(ctx context.Context, nodeID int64) ([]store.Option, error)
	InsertOption(ctx context.Context, nodeID int64, optionText string, nextNodeID int64, relatedSectionID *int64) (store.Option, error)
	UpdateOption(ctx context.Context, optionID int64, optionText string, nextNodeID int64, relatedSectionID *int64) error
	DeleteOption(ctx context.Context, optionID int64) error

	SummaryCounts(ctx context.Context) (users, scenarios, acts int, err error)
	SeedLibrary(ctx context.Context, dataset []store.SeedAct) (int, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens and access-token revocation marks. The
// Redis store is the usual backend; the Postgres store satisfies it too when
// Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type authService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error)
	SignIn(ctx context.Context, email, password string) (store.User, error)
	SignInFederated(ctx context.Context, profile authpw.FederatedProfile) (store.User, error)
}

type chatService interface {
	Query(ctx context.Context, message string) (chatbot.Reply, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexAct(act search.ActRecord)
	IndexSection(section search.SectionRecord)
	DeleteAct(id int64)
	DeleteSection(id int64)
	ReindexAllFromPG(ctx context.Context)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	auth     authService
	chat     chatService
	search   searchService
}

// New wires the service. chat may be nil when no Gemini key is configured;
// the chatbot endpoint then answers 503.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, authSvc *authpw.Service, chat *chatbot.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		auth:     authSvc,
	}
	if chat != nil {
		s.chat = chat
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

// Bootstrap populates an empty library so a fresh install has something to
// browse.
func (s *Service) Bootstrap(ctx context.Context) error {
	_, _, acts, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return err
	}
	if acts > 0 {
		return nil
	}
	_, err = s.SeedLibrary(ctx)
	return err
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// InternalToken is the shared secret for server-to-server calls. Empty means
// those endpoints are disabled.
func (s *Service) InternalToken() string {
	return s.cfg.InternalToken
}

// --- Auth and sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignInFederated(ctx context.Context, email, name, image string) (Session, error) {
	user, err := s.auth.SignInFederated(ctx, authpw.FederatedProfile{Email: email, Name: name, Image: image})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a full
// new session is issued against the user's current stored role.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, holder.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The role comes from the user
// row, not the token, so a demotion takes effect on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// DecideRoute answers the frontend's route gate: whether a navigation is
// allowed for the caller and where to send them if not.
func (s *Service) DecideRoute(path string, loggedIn bool, role string) rbac.Decision {
	return rbac.DecideRoute(path, rbac.Identity{LoggedIn: loggedIn, Role: rbac.Normalize(role)})
}

// --- Library ---

func (s *Service) ListActs(ctx context.Context) ([]store.Act, error) {
	return s.store.ListActs(ctx)
}

func (s *Service) GetActWithSections(ctx context.Context, actID int64) (map[string]any, error) {
	act, err := s.store.GetAct(ctx, actID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Act not found", nil)
		}
		return nil, err
	}
	sections, err := s.store.ListSections(ctx, actID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"act":      act,
		"sections": sections,
	}, nil
}

func (s *Service) CreateAct(ctx context.Context, title, category, jurisdiction string) (store.Act, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Act{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(jurisdiction) == "" {
		jurisdiction = "National"
	}
	act, err := s.store.InsertAct(ctx, title, strings.TrimSpace(category), strings.TrimSpace(jurisdiction))
	if err != nil {
		return store.Act{}, err
	}
	if s.search != nil {
		s.search.IndexAct(search.ActRecord{ID: act.ID, Title: act.Title, Category: act.Category, Jurisdiction: act.Jurisdiction})
	}
	return act, nil
}

func (s *Service) UpdateAct(ctx context.Context, actID int64, title, category, jurisdiction string) error {
	if strings.TrimSpace(title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateAct(ctx, actID, strings.TrimSpace(title), strings.TrimSpace(category), strings.TrimSpace(jurisdiction)); err != nil {
		return err
	}
	if s.search != nil {
		s.search.IndexAct(search.ActRecord{ID: actID, Title: strings.TrimSpace(title), Category: strings.TrimSpace(category), Jurisdiction: strings.TrimSpace(jurisdiction)})
	}
	return nil
}

func (s *Service) DeleteAct(ctx context.Context, actID int64) error {
	sections, err := s.store.ListSections(ctx, actID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteActCascade(ctx, actID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteAct(actID)
		for _, section := range sections {
			s.search.DeleteSection(section.ID)
		}
	}
	return nil
}

func (s *Service) ListSections(ctx context.Context, actID int64) ([]store.Section, error) {
	return s.store.ListSections(ctx, actID)
}

func (s *Service) CreateSection(ctx context.Context, actID int64, number, legalText, simplified string) (store.Section, error) {
	if strings.TrimSpace(number) == "" || strings.TrimSpace(legalText) == "" {
		return store.Section{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "section_number and legal_text are required", nil)
	}
	act, err := s.store.GetAct(ctx, actID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Section{}, domainError(http.StatusNotFound, "NOT_FOUND", "Act not found", nil)
		}
		return store.Section{}, err
	}
	section, err := s.store.InsertSection(ctx, actID, strings.TrimSpace(number), legalText, simplified)
	if err != nil {
		return store.Section{}, err
	}
	if s.search != nil {
		s.search.IndexSection(search.SectionRecord{
			ID:                    section.ID,
			ActID:                 actID,
			ActTitle:              act.Title,
			SectionNumber:         section.SectionNumber,
			LegalText:             section.LegalText,
			SimplifiedExplanation: section.SimplifiedExplanation,
		})
	}
	return section, nil
}

func (s *Service) UpdateSection(ctx context.Context, sectionID int64, number, legalText, simplified string) error {
	if strings.TrimSpace(number) == "" || strings.TrimSpace(legalText) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "section_number and legal_text are required", nil)
	}
	return s.store.UpdateSection(ctx, sectionID, strings.TrimSpace(number), legalText, simplified)
}

func (s *Service) DeleteSection(ctx context.Context, sectionID int64) error {
	if err := s.store.DeleteSection(ctx, sectionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSection(sectionID)
	}
	return nil
}

// SearchLibrary runs a full-text search across acts and sections.
func (s *Service) SearchLibrary(q, filterType string, actID int64, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	var rtyp search.ResultType
	switch filterType {
	case "":
	case string(search.ResultAct):
		rtyp = search.ResultAct
	case string(search.ResultSection):
		rtyp = search.ResultSection
	default:
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be act or section", nil)
	}
	return s.search.Search(search.Query{
		Text:        q,
		FilterType:  rtyp,
		FilterActID: actID,
		Limit:       limit,
		Offset:      offset,
	}), nil
}

// --- Scenarios ---

func (s *Service) ListScenarios(ctx context.Context) ([]store.Scenario, error) {
	return s.store.ListScenarios(ctx)
}

// ScenarioStart returns a scenario with its entry node and that node's
// options, the package a player needs to begin.
func (s *Service) ScenarioStart(ctx context.Context, scenarioID int64) (map[string]any, error) {
	scenario, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Scenario not found", nil)
		}
		return nil, err
	}

	node, err := s.store.StartNode(ctx, scenario)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No questions found for this scenario", nil)
		}
		return nil, err
	}

	options, err := s.store.ListOptions(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"scenario": scenario,
		"node":     node,
		"options":  options,
	}, nil
}

// NodeWithOptions returns one step of a scenario and its outgoing options.
func (s *Service) NodeWithOptions(ctx context.Context, nodeID int64) (map[string]any, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Step not found", nil)
		}
		return nil, err
	}
	options, err := s.store.ListOptions(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"node":    node,
		"options": options,
	}, nil
}

func (s *Service) CreateScenario(ctx context.Context, title, description, difficulty string) (store.Scenario, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Scenario{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(difficulty) == "" {
		difficulty = "Beginner"
	}
	return s.store.InsertScenario(ctx, title, description, difficulty)
}

func (s *Service) UpdateScenario(ctx context.Context, scenarioID int64, title, description, difficulty string, startNodeID *int64) error {
	if strings.TrimSpace(title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if startNodeID != nil {
		node, err := s.store.GetNode(ctx, *startNodeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "start_node_id does not exist", nil)
			}
			return err
		}
		if node.ScenarioID != scenarioID {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "start_node_id belongs to another scenario", nil)
		}
	}
	return s.store.UpdateScenario(ctx, scenarioID, strings.TrimSpace(title), description, difficulty, startNodeID)
}

func (s *Service) DeleteScenario(ctx context.Context, scenarioID int64) error {
	return s.store.DeleteScenarioCascade(ctx, scenarioID)
}

func (s *Service) ListNodes(ctx context.Context, scenarioID int64) ([]store.Node, error) {
	return s.store.ListNodes(ctx, scenarioID)
}

func (s *Service) CreateNode(ctx context.Context, scenarioID int64, contentText string, isOutcome bool) (store.Node, error) {
	if strings.TrimSpace(contentText) == "" {
		return store.Node{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content_text is required", nil)
	}
	if _, err := s.store.GetScenario(ctx, scenarioID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Node{}, domainError(http.StatusNotFound, "NOT_FOUND", "Scenario not found", nil)
		}
		return store.Node{}, err
	}
	return s.store.InsertNode(ctx, scenarioID, contentText, isOutcome)
}

func (s *Service) UpdateNode(ctx context.Context, nodeID int64, contentText string, isOutcome bool) error {
	if strings.TrimSpace(contentText) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content_text is required", nil)
	}
	return s.store.UpdateNode(ctx, nodeID, contentText, isOutcome)
}

func (s *Service) DeleteNode(ctx context.Context, nodeID int64) error {
	return s.store.DeleteNodeCascade(ctx, nodeID)
}

func (s *Service) ListOptions(ctx context.Context, nodeID int64) ([]store.Option, error) {
	return s.store.ListOptions(ctx, nodeID)
}

func (s *Service) CreateOption(ctx context.Context, nodeID int64, optionText string, nextNodeID int64, relatedSectionID *int64) (store.Option, error) {
	if strings.TrimSpace(optionText) == "" || nextNodeID <= 0 {
		return store.Option{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "option_text and next_node_id are required", nil)
	}
	if _, err := s.store.GetNode(ctx, nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Option{}, domainError(http.StatusNotFound, "NOT_FOUND", "Step not found", nil)
		}
		return store.Option{}, err
	}
	return s.store.InsertOption(ctx, nodeID, optionText, nextNodeID, relatedSectionID)
}

func (s *Service) UpdateOption(ctx context.Context, optionID int64, optionText string, nextNodeID int64, relatedSectionID *int64) error {
	if strings.TrimSpace(optionText) == "" || nextNodeID <= 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "option_text and next_node_id are required", nil)
	}
	return s.store.UpdateOption(ctx, optionID, optionText, nextNodeID, relatedSectionID)
}

func (s *Service) DeleteOption(ctx context.Context, optionID int64) error {
	return s.store.DeleteOption(ctx, optionID)
}

// --- Calculators ---

func (s *Service) Severance(state string, monthlySalary, yearsOfService float64) (map[string]any, error) {
	if strings.TrimSpace(state) == "" || monthlySalary < 0 || yearsOfService < 0 {
		return nil, domainError(http.StatusBadRequest, "INVALID_INPUT", "Missing or invalid input fields (state, monthlySalary, yearsOfService).", nil)
	}
	result := calculator.Severance(state, monthlySalary, yearsOfService)
	return map[string]any{
		"amount": result.Amount,
		"rule":   result.Rule,
		"input": map[string]any{
			"monthlySalary":  monthlySalary,
			"yearsOfService": yearsOfService,
		},
	}, nil
}

func (s *Service) RentDeposit(state string, monthlyRent float64, depositMonths int) (calculator.RentDepositResult, error) {
	if monthlyRent <= 0 || depositMonths < 0 {
		return calculator.RentDepositResult{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Invalid rent or deposit figures.", nil)
	}
	return calculator.RentDeposit(state, monthlyRent, depositMonths), nil
}

// --- Chatbot ---

func (s *Service) ChatQuery(ctx context.Context, message string) (chatbot.Reply, error) {
	if s.chat == nil {
		return chatbot.Reply{}, domainError(http.StatusServiceUnavailable, "CHATBOT_UNAVAILABLE", "Chatbot is not configured", nil)
	}
	reply, err := s.chat.Query(ctx, message)
	if err != nil {
		if errors.Is(err, chatbot.ErrEmptyMessage) {
			return chatbot.Reply{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Message is required", nil)
		}
		return chatbot.Reply{}, domainError(http.StatusInternalServerError, "CHATBOT_FAILED", "Failed to process legal query.", nil)
	}
	return reply, nil
}

// --- Admin ---

func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	users, scenarios, acts, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"users":     users,
		"scenarios": scenarios,
		"acts":      acts,
	}, nil
}

// SeedLibrary replaces the reference library with the embedded dataset and
// refreshes the search index to match.
func (s *Service) SeedLibrary(ctx context.Context) (map[string]any, error) {
	dataset, err := seed.Dataset()
	if err != nil {
		return nil, err
	}
	count, err := s.store.SeedLibrary(ctx, dataset)
	if err != nil {
		return nil, domainError(http.StatusInternalServerError, "SEED_FAILED", "Failed to seed library.", nil)
	}
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return map[string]any{
		"message": "Library populated successfully with " + strconv.Itoa(count) + " Acts.",
	}, nil
}
