// Package identitytest provides an in-memory identity server for tests. It
// speaks the organization, token, SCIM user, role search and bulk APIs,
// counts calls per operation and can be told to fail any of them.
package identitytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Operation names used for call counting and failure injection
const (
	OpServiceToken = "token.client_credentials"
	OpSwitchToken  = "token.organization_switch"
	OpGetOrg       = "organizations.get"
	OpListOrgs     = "organizations.list"
	OpCreateOrg    = "organizations.create"
	OpPatchOrg     = "organizations.patch"
	OpCreateUser   = "users.create"
	OpRoleSearch   = "roles.search"
	OpBulk         = "bulk"
)

// Paths served by the fake
const (
	TokenPath = "/oauth2/token"
	UsersPath = "/scim2/Users"
	RolesPath = "/scim2/Roles"
	BulkPath  = "/scim2/Bulk"
)

// Admin credentials accepted on organization calls
const (
	AdminUser     = "admin"
	AdminPassword = "admin-password"
	ClientID      = "client-id"
	ClientSecret  = "client-secret"
	ServiceToken  = "service-token"
)

// Attribute mirrors the wire attribute entry
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Organization mirrors the wire organization document
type Organization struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"`
	Attributes  []Attribute `json:"attributes"`
}

// Attr returns the value of attribute key
func (o Organization) Attr(key string) (string, bool) {
	for _, a := range o.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// PatchOperation mirrors one element of the PATCH body
type PatchOperation struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Value     string `json:"value"`
}

// User is a user created through the SCIM endpoint
type User struct {
	ID             string
	OrganizationID string
	Payload        map[string]interface{}
}

// PatchFailure fails PATCH requests whose operations match
type PatchFailure struct {
	Match  func(ops []PatchOperation) bool
	Status int
}

// Server is a fake identity server
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	orgs        map[string]*Organization
	users       map[string]User
	roles       map[string]string
	roleMembers map[string][]string
	calls       map[string]int
	failures    map[string]int
	patchFail   []PatchFailure
	patches     map[string][][]PatchOperation
	nextUser    int
	expiresIn   int
}

// NewServer starts a fake with a "superadmin" role
func NewServer() *Server {
	s := &Server{
		orgs:        make(map[string]*Organization),
		users:       make(map[string]User),
		roles:       map[string]string{"superadmin": "role-superadmin"},
		roleMembers: make(map[string][]string),
		calls:       make(map[string]int),
		failures:    make(map[string]int),
		patches:     make(map[string][][]PatchOperation),
		expiresIn:   3600,
	}

	r := mux.NewRouter()
	r.HandleFunc(TokenPath, s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/organizations", s.handleListOrgs).Methods(http.MethodGet)
	r.HandleFunc("/organizations", s.handleCreateOrg).Methods(http.MethodPost)
	r.HandleFunc("/organizations/{id}", s.handleGetOrg).Methods(http.MethodGet)
	r.HandleFunc("/organizations/{id}", s.handlePatchOrg).Methods(http.MethodPatch)
	r.HandleFunc(UsersPath, s.handleCreateUser).Methods(http.MethodPost)
	r.HandleFunc(RolesPath+"/.search", s.handleRoleSearch).Methods(http.MethodPost)
	r.HandleFunc(BulkPath, s.handleBulk).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	return s
}

// AddOrganization seeds an organization
func (s *Server) AddOrganization(org Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := org
	copied.Attributes = append([]Attribute(nil), org.Attributes...)
	s.orgs[org.ID] = &copied
}

// Organization returns a copy of the stored organization
func (s *Server) Organization(id string) (Organization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, false
	}
	copied := *org
	copied.Attributes = append([]Attribute(nil), org.Attributes...)
	return copied, true
}

// AddRole registers a role display name
func (s *Server) AddRole(displayName, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[displayName] = id
}

// SetTokenExpiresIn sets expires_in on service tokens; zero omits it
func (s *Server) SetTokenExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// Fail makes every call to op answer with status
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = status
}

// FailPatch fails PATCH requests for which match returns true
func (s *Server) FailPatch(match func(ops []PatchOperation) bool, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchFail = append(s.patchFail, PatchFailure{Match: match, Status: status})
}

// Calls returns how many requests op received, failed ones included
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// MutationCalls counts every request that could change remote state
func (s *Server) MutationCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpCreateOrg] + s.calls[OpPatchOrg] + s.calls[OpCreateUser] + s.calls[OpBulk]
}

// Patches returns the operation lists received for an organization
func (s *Server) Patches(id string) [][]PatchOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]PatchOperation(nil), s.patches[id]...)
}

// Users returns the created users
func (s *Server) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users
}

// RoleMembers returns the user ids added to role id
func (s *Server) RoleMembers(roleID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roleMembers[roleID]...)
}

// count records a call and reports the injected failure status, if any
func (s *Server) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]string{"error": "injected_failure", "error_description": "injected failure"})
}

func (s *Server) checkAdmin(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != AdminUser || pass != AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

// orgFromBearer returns the organization an org-scoped bearer token was
// issued for
func orgFromBearer(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !strings.HasPrefix(token, "org-token:") {
		return "", false
	}
	return strings.TrimPrefix(token, "org-token:"), true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "client_credentials":
		if status := s.count(OpServiceToken); status != 0 {
			writeFailure(w, status)
			return
		}
		if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		s.mu.Lock()
		expiresIn := s.expiresIn
		s.mu.Unlock()
		resp := map[string]interface{}{"access_token": ServiceToken, "token_type": "Bearer", "scope": r.PostForm.Get("scope")}
		if expiresIn > 0 {
			resp["expires_in"] = expiresIn
		}
		writeJSON(w, http.StatusOK, resp)

	case "organization_switch":
		if status := s.count(OpSwitchToken); status != 0 {
			writeFailure(w, status)
			return
		}
		if r.PostForm.Get("token") != ServiceToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		orgID := r.PostForm.Get("switching_organization")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "org-token:" + orgID,
			"scope":        r.PostForm.Get("scope"),
			"expires_in":   600,
		})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpListOrgs); status != 0 {
		writeFailure(w, status)
		return
	}
	if !s.checkAdmin(w, r) {
		return
	}

	filter := r.URL.Query().Get("filter")
	s.mu.Lock()
	matches := []Organization{}
	for _, org := range s.orgs {
		if matchFilter(filter, org.Name) {
			matches = append(matches, *org)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"totalResults": len(matches), "organizations": matches})
}

// matchFilter understands `name eq "x"` and `name sw "x"`
func matchFilter(filter, name string) bool {
	if filter == "" {
		return true
	}
	var op, value string
	if _, err := fmt.Sscanf(filter, "name %s %q", &op, &value); err != nil {
		return false
	}
	switch op {
	case "eq":
		return name == value
	case "sw":
		return strings.HasPrefix(name, value)
	}
	return false
}

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpCreateOrg); status != 0 {
		writeFailure(w, status)
		return
	}
	if !s.checkAdmin(w, r) {
		return
	}

	var org Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	org.ID = fmt.Sprintf("org-%d", len(s.orgs)+1)
	s.orgs[org.ID] = &org
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpGetOrg); status != 0 {
		writeFailure(w, status)
		return
	}
	if !s.checkAdmin(w, r) {
		return
	}

	org, ok := s.Organization(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) handlePatchOrg(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpPatchOrg); status != 0 {
		writeFailure(w, status)
		return
	}
	if !s.checkAdmin(w, r) {
		return
	}

	var ops []PatchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of operations"})
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
		return
	}
	s.patches[id] = append(s.patches[id], ops)

	for _, f := range s.patchFail {
		if f.Match(ops) {
			writeFailure(w, f.Status)
			return
		}
	}

	for _, op := range ops {
		if op.Operation != "ADD" && op.Operation != "REPLACE" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation " + op.Operation})
			return
		}
	}
	for _, op := range ops {
		switch {
		case op.Path == "/name":
			org.Name = op.Value
		case op.Path == "/description":
			org.Description = op.Value
		case strings.HasPrefix(op.Path, "/attributes/"):
			setAttr(org, strings.TrimPrefix(op.Path, "/attributes/"), op.Value)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func setAttr(org *Organization, key, value string) {
	for i := range org.Attributes {
		if org.Attributes[i].Key == key {
			org.Attributes[i].Value = value
			return
		}
	}
	org.Attributes = append(org.Attributes, Attribute{Key: key, Value: value})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpCreateUser); status != 0 {
		writeFailure(w, status)
		return
	}
	orgID, ok := orgFromBearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "organization token required"})
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.nextUser++
	id := fmt.Sprintf("user-%d", s.nextUser)
	s.users[id] = User{ID: id, OrganizationID: orgID, Payload: payload}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "userName": payload["userName"]})
}

func (s *Server) handleRoleSearch(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpRoleSearch); status != 0 {
		writeFailure(w, status)
		return
	}
	if _, ok := orgFromBearer(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "organization token required"})
		return
	}

	var req struct {
		Schemas    []string `json:"schemas"`
		StartIndex int      `json:"startIndex"`
		Filter     string   `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var displayName string
	resources := []map[string]string{}
	if _, err := fmt.Sscanf(req.Filter, "displayName eq %q", &displayName); err == nil {
		s.mu.Lock()
		if id, ok := s.roles[displayName]; ok {
			resources = append(resources, map[string]string{"id": id, "displayName": displayName})
		}
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"totalResults": len(resources), "Resources": resources})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if status := s.count(OpBulk); status != 0 {
		writeFailure(w, status)
		return
	}
	if _, ok := orgFromBearer(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "organization token required"})
		return
	}

	var req struct {
		Operations []struct {
			Method string `json:"method"`
			Path   string `json:"path"`
			Data   struct {
				Operations []struct {
					Op    string `json:"op"`
					Value struct {
						Users []struct {
							Value string `json:"value"`
						} `json:"users"`
					} `json:"value"`
				} `json:"Operations"`
			} `json:"data"`
		} `json:"Operations"`
		FailOnErrors int      `json:"failOnErrors"`
		Schemas      []string `json:"schemas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	for _, op := range req.Operations {
		roleID := strings.TrimPrefix(op.Path, "/v2/Roles/")
		for _, inner := range op.Data.Operations {
			for _, u := range inner.Value.Users {
				s.roleMembers[roleID] = append(s.roleMembers[roleID], u.Value)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"Operations": []map[string]string{{"status": "200"}}})
}
