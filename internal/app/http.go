package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lokvidhi/api/internal/auth"
	"lokvidhi/api/internal/authpw"
	"lokvidhi/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/federated" {
		s.handleAuthFederated(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"email":         session.Email,
			"name":          session.Name,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Route gate: the frontend asks whether a navigation is allowed for the
	// caller's identity.
	if r.Method == http.MethodGet && r.URL.Path == "/api/authz/route" {
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		if path == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
			return
		}
		loggedIn := false
		role := ""
		if token := bearerToken(r); token != "" {
			if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				loggedIn = true
				role = session.Role
			}
		}
		decision := s.service.DecideRoute(path, loggedIn, role)
		payload := map[string]any{"allow": decision.Allow}
		if decision.RedirectTo != "" {
			payload["redirectTo"] = decision.RedirectTo
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// Public library routes
	if r.Method == http.MethodGet && r.URL.Path == "/api/library/acts" {
		acts, err := s.service.ListActs(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, acts)
		return
	}

	if parts := splitPath(r.URL.Path); r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "library" && parts[2] == "acts" {
		actID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		payload, err := s.service.GetActWithSections(r.Context(), actID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/library/search" {
		s.handleLibrarySearch(w, r)
		return
	}

	// Public calculators
	if r.Method == http.MethodPost && r.URL.Path == "/api/calculator/severance" {
		var body struct {
			State          string   `json:"state"`
			MonthlySalary  *float64 `json:"monthlySalary"`
			YearsOfService *float64 `json:"yearsOfService"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.MonthlySalary == nil || body.YearsOfService == nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Missing or invalid input fields (state, monthlySalary, yearsOfService).", nil)
			return
		}
		payload, err := s.service.Severance(body.State, *body.MonthlySalary, *body.YearsOfService)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/calculator/rent/deposit" {
		var body struct {
			State                string   `json:"state"`
			MonthlyRent          *float64 `json:"monthlyRent"`
			InitialDepositMonths *int     `json:"initialDepositMonths"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.MonthlyRent == nil || body.InitialDepositMonths == nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid rent or deposit figures.", nil)
			return
		}
		result, err := s.service.RentDeposit(body.State, *body.MonthlyRent, *body.InitialDepositMonths)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/chatbot/query" {
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Message) == "" {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Message is required", nil)
			return
		}
		reply, err := s.service.ChatQuery(r.Context(), body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, reply)
		return
	}

	// Everything below needs a session.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	// Member routes: the scenario player
	if r.Method == http.MethodGet && r.URL.Path == "/api/scenarios" {
		scenarios, err := s.service.ListScenarios(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, scenarios)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "scenario" {
		s.handleScenario(w, r, parts)
		return
	}

	// Admin routes
	if len(parts) >= 2 && parts[0] == "api" && (parts[1] == "admin" || parts[1] == "seed") {
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleAdmin(w, r, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleScenario serves the member-facing scenario player.
func (s *HTTPServer) handleScenario(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(parts) == 4 && parts[2] == "node":
		nodeID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		payload, err := s.service.NodeWithOptions(r.Context(), nodeID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 3:
		scenarioID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		payload, err := s.service.ScenarioStart(r.Context(), scenarioID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLibrarySearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))

	var actID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("actId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "actId must be an integer", nil)
			return
		}
		actID = parsed
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	payload, err := s.service.SearchLibrary(q, filterType, actID, limit, offset)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAdmin serves the authoring surface. The caller's admin role has
// already been checked.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	// POST /api/seed/library
	if r.Method == http.MethodPost && r.URL.Path == "/api/seed/library" {
		payload, err := s.service.SeedLibrary(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/stats" {
		payload, err := s.service.Stats(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// Scenarios
	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/scenarios" {
		scenarios, err := s.service.ListScenarios(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, scenarios)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/scenarios" {
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Difficulty  string `json:"difficulty"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		scenario, err := s.service.CreateScenario(r.Context(), body.Title, body.Description, body.Difficulty)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, scenario)
		return
	}

	if len(parts) == 4 && parts[1] == "admin" && parts[2] == "scenarios" {
		scenarioID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Title           string `json:"title"`
				Description     string `json:"description"`
				DifficultyLevel string `json:"difficulty_level"`
				StartNodeID     *int64 `json:"start_node_id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateScenario(r.Context(), scenarioID, body.Title, body.Description, body.DifficultyLevel, body.StartNodeID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Scenario updated"})
		case http.MethodDelete:
			if err := s.service.DeleteScenario(r.Context(), scenarioID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Scenario deleted"})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[1] == "admin" && parts[2] == "scenarios" && parts[4] == "nodes" {
		scenarioID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		nodes, err := s.service.ListNodes(r.Context(), scenarioID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, nodes)
		return
	}

	// Nodes
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/nodes" {
		var body struct {
			ScenarioID  int64  `json:"scenario_id"`
			ContentText string `json:"content_text"`
			IsOutcome   bool   `json:"is_outcome"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		node, err := s.service.CreateNode(r.Context(), body.ScenarioID, body.ContentText, body.IsOutcome)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, node)
		return
	}

	if len(parts) == 4 && parts[1] == "admin" && parts[2] == "nodes" {
		nodeID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				ContentText string `json:"content_text"`
				IsOutcome   bool   `json:"is_outcome"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateNode(r.Context(), nodeID, body.ContentText, body.IsOutcome); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Node updated"})
		case http.MethodDelete:
			if err := s.service.DeleteNode(r.Context(), nodeID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Node deleted"})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[1] == "admin" && parts[2] == "nodes" && parts[4] == "options" {
		nodeID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		options, err := s.service.ListOptions(r.Context(), nodeID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, options)
		return
	}

	// Options
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/options" {
		var body struct {
			CurrentNodeID    int64  `json:"current_node_id"`
			OptionText       string `json:"option_text"`
			NextNodeID       int64  `json:"next_node_id"`
			RelatedSectionID *int64 `json:"related_section_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		option, err := s.service.CreateOption(r.Context(), body.CurrentNodeID, body.OptionText, body.NextNodeID, body.RelatedSectionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, option)
		return
	}

	if len(parts) == 4 && parts[1] == "admin" && parts[2] == "options" {
		optionID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				OptionText       string `json:"option_text"`
				NextNodeID       int64  `json:"next_node_id"`
				RelatedSectionID *int64 `json:"related_section_id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateOption(r.Context(), optionID, body.OptionText, body.NextNodeID, body.RelatedSectionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Option updated"})
		case http.MethodDelete:
			if err := s.service.DeleteOption(r.Context(), optionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Option deleted"})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	// Acts
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/acts" {
		var body struct {
			Title        string `json:"title"`
			Category     string `json:"category"`
			Jurisdiction string `json:"jurisdiction"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		act, err := s.service.CreateAct(r.Context(), body.Title, body.Category, body.Jurisdiction)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, act)
		return
	}

	if len(parts) == 4 && parts[1] == "admin" && parts[2] == "acts" {
		actID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Title        string `json:"title"`
				Category     string `json:"category"`
				Jurisdiction string `json:"jurisdiction"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateAct(r.Context(), actID, body.Title, body.Category, body.Jurisdiction); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Act updated successfully"})
		case http.MethodDelete:
			if err := s.service.DeleteAct(r.Context(), actID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Act deleted successfully"})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[1] == "admin" && parts[2] == "acts" && parts[4] == "sections" {
		actID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		sections, err := s.service.ListSections(r.Context(), actID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sections)
		return
	}

	// Sections
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/sections" {
		var body struct {
			ActID                 int64  `json:"act_id"`
			SectionNumber         string `json:"section_number"`
			LegalText             string `json:"legal_text"`
			SimplifiedExplanation string `json:"simplified_explanation"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		section, err := s.service.CreateSection(r.Context(), body.ActID, body.SectionNumber, body.LegalText, body.SimplifiedExplanation)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, section)
		return
	}

	if len(parts) == 4 && parts[1] == "admin" && parts[2] == "sections" {
		sectionID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				SectionNumber         string `json:"section_number"`
				LegalText             string `json:"legal_text"`
				SimplifiedExplanation string `json:"simplified_explanation"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.UpdateSection(r.Context(), sectionID, body.SectionNumber, body.LegalText, body.SimplifiedExplanation); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Section updated"})
		case http.MethodDelete:
			if err := s.service.DeleteSection(r.Context(), sectionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Section deleted"})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password and federated authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		if errors.Is(err, authpw.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrInvalidInput) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// handleAuthFederated exchanges a provider-verified profile for a session.
// Only the trusted frontend server may call it, proven by the internal token.
func (s *HTTPServer) handleAuthFederated(w http.ResponseWriter, r *http.Request) {
	internalToken := s.service.InternalToken()
	presented := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if internalToken == "" || presented == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(internalToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Image string `json:"image"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignInFederated(r.Context(), body.Email, body.Name, body.Image)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "SIGNIN_FAILED", err.Error(), nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"name":         session.Name,
		"role":         session.Role,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Internal-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
