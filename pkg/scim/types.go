package scim

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message schemas
const (
	SearchRequestSchema = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"
	BulkRequestSchema   = "urn:ietf:params:scim:api:messages:2.0:BulkRequest"
)

// Email is a SCIM multi-valued email entry
type Email struct {
	Primary bool   `json:"primary"`
	Value   string `json:"value"`
}

// Name is the structured SCIM user name
type Name struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// CreateUserRequest is the minimal user-creation payload
type CreateUserRequest struct {
	Emails   []Email `json:"emails"`
	Name     Name    `json:"name"`
	Password string  `json:"password"`
	UserName string  `json:"userName"`
}

// String redacts the password
func (r CreateUserRequest) String() string {
	return fmt.Sprintf("CreateUserRequest{UserName: %s, Name: %s %s, Emails: %v, Password: [REDACTED]}",
		r.UserName, r.Name.GivenName, r.Name.FamilyName, r.Emails)
}

// User is the part of a created user this service reads back
type User struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

type searchRequest struct {
	Schemas    []string `json:"schemas"`
	StartIndex int      `json:"startIndex"`
	Filter     string   `json:"filter"`
}

type searchResponse struct {
	TotalResults int `json:"totalResults"`
	Resources    []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"Resources"`
}

type bulkRequest struct {
	Operations   []bulkOperation `json:"Operations"`
	FailOnErrors int             `json:"failOnErrors"`
	Schemas      []string        `json:"schemas"`
}

type bulkOperation struct {
	Method string    `json:"method"`
	Path   string    `json:"path"`
	Data   patchData `json:"data"`
}

type patchData struct {
	Operations []patchOp `json:"Operations"`
}

type patchOp struct {
	Op    string       `json:"op"`
	Value membersValue `json:"value"`
}

type membersValue struct {
	Users []memberRef `json:"users"`
}

type memberRef struct {
	Value string `json:"value"`
}

type bulkResponse struct {
	Operations []struct {
		Method   string          `json:"method"`
		Location string          `json:"location"`
		Status   json.RawMessage `json:"status"`
	} `json:"Operations"`
}

// statusCode reads a bulk operation status, which servers send either as
// "200" or as {"code": 200}
func statusCode(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		code, err := strconv.Atoi(s)
		return code, err == nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var obj struct {
		Code json.Number `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Code != "" {
		code, err := strconv.Atoi(obj.Code.String())
		return code, err == nil
	}
	return 0, false
}
