package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lokvidhi/api/internal/auth"
	"lokvidhi/api/internal/authpw"
	"lokvidhi/api/internal/chatbot"
	"lokvidhi/api/internal/config"
	"lokvidhi/api/internal/search"
	"lokvidhi/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	listActsFn          func(context.Context) ([]store.Act, error)
	getActFn            func(context.Context, int64) (store.Act, error)
	insertActFn         func(context.Context, string, string, string) (store.Act, error)
	updateActFn         func(context.Context, int64, string, string, string) error
	deleteActCascadeFn  func(context.Context, int64) error
	listSectionsFn      func(context.Context, int64) ([]store.Section, error)
	insertSectionFn     func(context.Context, int64, string, string, string) (store.Section, error)
	listScenariosFn     func(context.Context) ([]store.Scenario, error)
	getScenarioFn       func(context.Context, int64) (store.Scenario, error)
	insertScenarioFn    func(context.Context, string, string, string) (store.Scenario, error)
	updateScenarioFn    func(context.Context, int64, string, string, string, *int64) error
	listNodesFn         func(context.Context, int64) ([]store.Node, error)
	getNodeFn           func(context.Context, int64) (store.Node, error)
	startNodeFn         func(context.Context, store.Scenario) (store.Node, error)
	insertNodeFn        func(context.Context, int64, string, bool) (store.Node, error)
	listOptionsFn       func(context.Context, int64) ([]store.Option, error)
	insertOptionFn      func(context.Context, int64, string, int64, *int64) (store.Option, error)
	summaryCountsFn     func(context.Context) (int, int, int, error)
	seedLibraryFn       func(context.Context, []store.SeedAct) (int, error)
	pingFn              func(context.Context) error
	deleteScenarioFn    func(context.Context, int64) error
	deleteNodeCascadeFn func(context.Context, int64) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Email: "user@example.com", Name: "User", Role: "member"}, nil
}

func (f *fakeStore) ListActs(ctx context.Context) ([]store.Act, error) {
	if f.listActsFn != nil {
		return f.listActsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetAct(ctx context.Context, actID int64) (store.Act, error) {
	if f.getActFn != nil {
		return f.getActFn(ctx, actID)
	}
	return store.Act{}, sql.ErrNoRows
}

func (f *fakeStore) InsertAct(ctx context.Context, title, category, jurisdiction string) (store.Act, error) {
	if f.insertActFn != nil {
		return f.insertActFn(ctx, title, category, jurisdiction)
	}
	return store.Act{ID: 1, Title: title, Category: category, Jurisdiction: jurisdiction}, nil
}

func (f *fakeStore) UpdateAct(ctx context.Context, actID int64, title, category, jurisdiction string) error {
	if f.updateActFn != nil {
		return f.updateActFn(ctx, actID, title, category, jurisdiction)
	}
	return nil
}

func (f *fakeStore) DeleteActCascade(ctx context.Context, actID int64) error {
	if f.deleteActCascadeFn != nil {
		return f.deleteActCascadeFn(ctx, actID)
	}
	return nil
}

func (f *fakeStore) ListSections(ctx context.Context, actID int64) ([]store.Section, error) {
	if f.listSectionsFn != nil {
		return f.listSectionsFn(ctx, actID)
	}
	return nil, nil
}

func (f *fakeStore) InsertSection(ctx context.Context, actID int64, number, legalText, simplified string) (store.Section, error) {
	if f.insertSectionFn != nil {
		return f.insertSectionFn(ctx, actID, number, legalText, simplified)
	}
	return store.Section{ID: 1, ActID: actID, SectionNumber: number, LegalText: legalText, SimplifiedExplanation: simplified}, nil
}

func (f *fakeStore) UpdateSection(context.Context, int64, string, string, string) error { return nil }
func (f *fakeStore) DeleteSection(context.Context, int64) error                         { return nil }

func (f *fakeStore) ListScenarios(ctx context.Context) ([]store.Scenario, error) {
	if f.listScenariosFn != nil {
		return f.listScenariosFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetScenario(ctx context.Context, scenarioID int64) (store.Scenario, error) {
	if f.getScenarioFn != nil {
		return f.getScenarioFn(ctx, scenarioID)
	}
	return store.Scenario{}, sql.ErrNoRows
}

func (f *fakeStore) InsertScenario(ctx context.Context, title, description, difficulty string) (store.Scenario, error) {
	if f.insertScenarioFn != nil {
		return f.insertScenarioFn(ctx, title, description, difficulty)
	}
	return store.Scenario{ID: 1, Title: title, Description: description, DifficultyLevel: difficulty}, nil
}

func (f *fakeStore) UpdateScenario(ctx context.Context, scenarioID int64, title, description, difficulty string, startNodeID *int64) error {
	if f.updateScenarioFn != nil {
		return f.updateScenarioFn(ctx, scenarioID, title, description, difficulty, startNodeID)
	}
	return nil
}

func (f *fakeStore) DeleteScenarioCascade(ctx context.Context, scenarioID int64) error {
	if f.deleteScenarioFn != nil {
		return f.deleteScenarioFn(ctx, scenarioID)
	}
	return nil
}

func (f *fakeStore) ListNodes(ctx context.Context, scenarioID int64) ([]store.Node, error) {
	if f.listNodesFn != nil {
		return f.listNodesFn(ctx, scenarioID)
	}
	return nil, nil
}

func (f *fakeStore) GetNode(ctx context.Context, nodeID int64) (store.Node, error) {
	if f.getNodeFn != nil {
		return f.getNodeFn(ctx, nodeID)
	}
	return store.Node{}, sql.ErrNoRows
}

func (f *fakeStore) StartNode(ctx context.Context, scenario store.Scenario) (store.Node, error) {
	if f.startNodeFn != nil {
		return f.startNodeFn(ctx, scenario)
	}
	return store.Node{}, sql.ErrNoRows
}

func (f *fakeStore) InsertNode(ctx context.Context, scenarioID int64, contentText string, isOutcome bool) (store.Node, error) {
	if f.insertNodeFn != nil {
		return f.insertNodeFn(ctx, scenarioID, contentText, isOutcome)
	}
	return store.Node{ID: 1, ScenarioID: scenarioID, ContentText: contentText, IsOutcome: isOutcome}, nil
}

func (f *fakeStore) UpdateNode(context.Context, int64, string, bool) error { return nil }

func (f *fakeStore) DeleteNodeCascade(ctx context.Context, nodeID int64) error {
	if f.deleteNodeCascadeFn != nil {
		return f.deleteNodeCascadeFn(ctx, nodeID)
	}
	return nil
}

func (f *fakeStore) ListOptions(ctx context.Context, nodeID int64) ([]store.Option, error) {
	if f.listOptionsFn != nil {
		return f.listOptionsFn(ctx, nodeID)
	}
	return nil, nil
}

func (f *fakeStore) InsertOption(ctx context.Context, nodeID int64, optionText string, nextNodeID int64, relatedSectionID *int64) (store.Option, error) {
	if f.insertOptionFn != nil {
		return f.insertOptionFn(ctx, nodeID, optionText, nextNodeID, relatedSectionID)
	}
	return store.Option{ID: 1, CurrentNodeID: nodeID, OptionText: optionText, NextNodeID: nextNodeID, RelatedSectionID: relatedSectionID}, nil
}

func (f *fakeStore) UpdateOption(context.Context, int64, string, int64, *int64) error { return nil }
func (f *fakeStore) DeleteOption(context.Context, int64) error                        { return nil }

func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	if f.summaryCountsFn != nil {
		return f.summaryCountsFn(ctx)
	}
	return 0, 0, 0, nil
}

func (f *fakeStore) SeedLibrary(ctx context.Context, dataset []store.SeedAct) (int, error) {
	if f.seedLibraryFn != nil {
		return f.seedLibraryFn(ctx, dataset)
	}
	return len(dataset), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeSessions is an in-memory sessionStore, good enough to exercise refresh
// rotation and revocation.
type fakeSessions struct {
	mu       sync.Mutex
	refresh  map[string]string
	revoked  map[string]bool
	lookupFn func(context.Context, string) (store.User, error)
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: make(map[string]string), revoked: make(map[string]bool)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, tokenHash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeAuth struct {
	signUpFn          func(context.Context, authpw.SignUpRequest) (store.User, error)
	signInFn          func(context.Context, string, string) (store.User, error)
	signInFederatedFn func(context.Context, authpw.FederatedProfile) (store.User, error)
}

func (f *fakeAuth) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	if f.signUpFn != nil {
		return f.signUpFn(ctx, req)
	}
	return store.User{ID: "usr_new", Email: req.Email, Name: req.Name, Role: "member"}, nil
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, email, password)
	}
	return store.User{ID: "usr_1", Email: email, Role: "member"}, nil
}

func (f *fakeAuth) SignInFederated(ctx context.Context, profile authpw.FederatedProfile) (store.User, error) {
	if f.signInFederatedFn != nil {
		return f.signInFederatedFn(ctx, profile)
	}
	return store.User{ID: "usr_fed", Email: profile.Email, Name: profile.Name, Role: "member"}, nil
}

type fakeChat struct {
	queryFn func(context.Context, string) (chatbot.Reply, error)
}

func (f *fakeChat) Query(ctx context.Context, message string) (chatbot.Reply, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, message)
	}
	return chatbot.Reply{Reply: "answer", Sources: []chatbot.Source{}}, nil
}

type fakeSearch struct {
	searchFn func(search.Query) search.Response
	indexed  []int64
	deleted  []int64
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexAct(act search.ActRecord)             { f.indexed = append(f.indexed, act.ID) }
func (f *fakeSearch) IndexSection(sec search.SectionRecord)     { f.indexed = append(f.indexed, sec.ID) }
func (f *fakeSearch) DeleteAct(id int64)                        { f.deleted = append(f.deleted, id) }
func (f *fakeSearch) DeleteSection(id int64)                    { f.deleted = append(f.deleted, id) }
func (f *fakeSearch) ReindexAllFromPG(context.Context)          {}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: newFakeSessions(),
		auth:     &fakeAuth{},
	}
}

func TestSignInIssuesVerifiableSession(t *testing.T) {
	svc := newTestService(&fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Email: "avni@example.com", Name: "Avni", Role: "member"}, nil
		},
	})

	session, err := svc.SignIn(context.Background(), "avni@example.com", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected token and refresh token, got %+v", session)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if parsed.Email != "avni@example.com" {
		t.Fatalf("expected email avni@example.com, got %q", parsed.Email)
	}
}

func TestSessionRoleComesFromUserRowNotToken(t *testing.T) {
	role := "admin"
	svc := newTestService(&fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Email: "a@example.com", Role: role}, nil
		},
	})

	session, err := svc.SignIn(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	// Demote after the token was issued. The next lookup must see the new
	// role even though the token still claims admin.
	role = "member"

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if parsed.Role != "member" {
		t.Fatalf("expected role member after demotion, got %q", parsed.Role)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(&fakeStore{})

	session, err := svc.SignIn(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	rotated, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatalf("expected a new refresh token after rotation")
	}

	// The presented token is single use.
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatalf("expected second refresh with the same token to fail")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc := newTestService(&fakeStore{})

	session, err := svc.SignIn(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := svc.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatalf("expected refresh after logout to fail")
	}
}

func TestSessionFromTokenDeletedUser(t *testing.T) {
	deleted := false
	svc := newTestService(&fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			if deleted {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: userID, Role: "member"}, nil
		},
	})

	session, err := svc.SignIn(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	deleted = true

	if _, err := svc.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token for deleted user, got %v", err)
	}
}

func TestScenarioStartUsesConfiguredStartNode(t *testing.T) {
	startID := int64(7)
	var startedWith store.Scenario
	fs := &fakeStore{
		getScenarioFn: func(_ context.Context, scenarioID int64) (store.Scenario, error) {
			return store.Scenario{ID: scenarioID, Title: "Eviction Notice", StartNodeID: &startID}, nil
		},
		startNodeFn: func(_ context.Context, scenario store.Scenario) (store.Node, error) {
			startedWith = scenario
			return store.Node{ID: 7, ScenarioID: scenario.ID, ContentText: "Your landlord hands you a notice."}, nil
		},
		listOptionsFn: func(_ context.Context, nodeID int64) ([]store.Option, error) {
			return []store.Option{{ID: 1, CurrentNodeID: nodeID, OptionText: "Read it", NextNodeID: 8}}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ScenarioStart(context.Background(), 3)
	if err != nil {
		t.Fatalf("scenario start: %v", err)
	}
	if startedWith.StartNodeID == nil || *startedWith.StartNodeID != 7 {
		t.Fatalf("expected StartNode to receive the configured start node, got %+v", startedWith)
	}
	node, ok := payload["node"].(store.Node)
	if !ok || node.ID != 7 {
		t.Fatalf("expected node 7 in payload, got %+v", payload["node"])
	}
	options, ok := payload["options"].([]store.Option)
	if !ok || len(options) != 1 {
		t.Fatalf("expected one option, got %+v", payload["options"])
	}
}

func TestScenarioStartWithoutNodes(t *testing.T) {
	svc := newTestService(&fakeStore{
		getScenarioFn: func(_ context.Context, scenarioID int64) (store.Scenario, error) {
			return store.Scenario{ID: scenarioID, Title: "Empty"}, nil
		},
	})

	_, err := svc.ScenarioStart(context.Background(), 3)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 domain error, got %v", err)
	}
	if domainErr.Message != "No questions found for this scenario" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestUpdateScenarioRejectsForeignStartNode(t *testing.T) {
	svc := newTestService(&fakeStore{
		getNodeFn: func(_ context.Context, nodeID int64) (store.Node, error) {
			return store.Node{ID: nodeID, ScenarioID: 99}, nil
		},
	})

	startID := int64(5)
	err := svc.UpdateScenario(context.Background(), 3, "Title", "", "Beginner", &startID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
	if !strings.Contains(domainErr.Message, "another scenario") {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestCreateSectionRequiresExistingAct(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateSection(context.Background(), 42, "101", "text", "simple")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 domain error, got %v", err)
	}
	if domainErr.Message != "Act not found" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestDeleteActRemovesSectionsFromIndex(t *testing.T) {
	fs := &fakeStore{
		listSectionsFn: func(_ context.Context, actID int64) ([]store.Section, error) {
			return []store.Section{{ID: 10, ActID: actID}, {ID: 11, ActID: actID}}, nil
		},
	}
	svc := newTestService(fs)
	idx := &fakeSearch{}
	svc.search = idx

	if err := svc.DeleteAct(context.Background(), 5); err != nil {
		t.Fatalf("delete act: %v", err)
	}
	if len(idx.deleted) != 3 {
		t.Fatalf("expected act plus two sections deleted from index, got %v", idx.deleted)
	}
}

func TestChatQueryWithoutChatbotConfigured(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.ChatQuery(context.Background(), "What is Section 420?")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("expected 503 when chatbot is not configured, got %v", err)
	}
}

func TestChatQueryWrapsUpstreamFailure(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.chat = &fakeChat{
		queryFn: func(context.Context, string) (chatbot.Reply, error) {
			return chatbot.Reply{}, chatbot.ErrUpstream
		},
	}

	_, err := svc.ChatQuery(context.Background(), "hello")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 500 {
		t.Fatalf("expected 500 on upstream failure, got %v", err)
	}
	if domainErr.Message != "Failed to process legal query." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestSearchLibraryRejectsBadType(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.search = &fakeSearch{}

	_, err := svc.SearchLibrary("rent", "chapter", 0, 20, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for unknown type filter, got %v", err)
	}
}

func TestBootstrapSeedsOnlyWhenEmpty(t *testing.T) {
	seeded := 0
	fs := &fakeStore{
		summaryCountsFn: func(context.Context) (int, int, int, error) {
			return 0, 0, 0, nil
		},
		seedLibraryFn: func(_ context.Context, dataset []store.SeedAct) (int, error) {
			seeded++
			return len(dataset), nil
		},
	}
	svc := newTestService(fs)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if seeded != 1 {
		t.Fatalf("expected seed to run once on empty library, ran %d times", seeded)
	}

	fs.summaryCountsFn = func(context.Context) (int, int, int, error) {
		return 5, 2, 6, nil
	}
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if seeded != 1 {
		t.Fatalf("expected seed to be skipped for populated library, ran %d times", seeded)
	}
}

func TestSeedLibraryMessage(t *testing.T) {
	svc := newTestService(&fakeStore{
		seedLibraryFn: func(_ context.Context, dataset []store.SeedAct) (int, error) {
			return len(dataset), nil
		},
	})

	payload, err := svc.SeedLibrary(context.Background())
	if err != nil {
		t.Fatalf("seed library: %v", err)
	}
	message, _ := payload["message"].(string)
	if !strings.HasPrefix(message, "Library populated successfully with ") || !strings.HasSuffix(message, " Acts.") {
		t.Fatalf("unexpected seed message %q", message)
	}
}
