package directory

import (
	"fmt"
	"sort"
	"strings"
)

// LeadPrefix marks an organization that has not been converted yet
const LeadPrefix = "lead-"

// Attribute is one entry of an organization's flexible attribute list
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Organization is an organization record as returned by the directory
type Organization struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        string      `json:"type,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// IsLead reports whether the organization is still provisional
func (o *Organization) IsLead() bool {
	return strings.HasPrefix(o.Name, LeadPrefix)
}

// AttributeMap returns the attributes keyed by name. When a key repeats,
// the last value wins.
func (o *Organization) AttributeMap() map[string]string {
	m := make(map[string]string, len(o.Attributes))
	for _, attr := range o.Attributes {
		m[attr.Key] = attr.Value
	}
	return m
}

// Lead returns the typed view of the organization's attributes
func (o *Organization) Lead() LeadAttributes {
	return ParseLeadAttributes(o.AttributeMap())
}

// CreateRequest is the body of POST /organizations
type CreateRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"`
	Attributes  []Attribute `json:"attributes"`
}

// listResponse is the body of GET /organizations
type listResponse struct {
	TotalResults  int            `json:"totalResults"`
	Organizations []Organization `json:"organizations"`
}

// Operation is the verb of a patch operation
type Operation string

const (
	OperationAdd     Operation = "ADD"
	OperationReplace Operation = "REPLACE"
)

const (
	PathName        = "/name"
	PathDescription = "/description"

	attributePathPrefix = "/attributes/"
)

// PatchOperation is one element of the JSON array sent with
// PATCH /organizations/{id}
type PatchOperation struct {
	Operation Operation `json:"operation"`
	Path      string    `json:"path"`
	Value     string    `json:"value"`
}

// AttributePath returns the patch path addressing attribute key
func AttributePath(key string) string {
	return attributePathPrefix + key
}

// AttributeKey returns the attribute key addressed by path, or false when
// path does not address an attribute.
func AttributeKey(path string) (string, bool) {
	if !strings.HasPrefix(path, attributePathPrefix) {
		return "", false
	}
	return strings.TrimPrefix(path, attributePathPrefix), true
}

// BuildAttributeOperations returns one operation per key in updates:
// REPLACE when the key is present in snapshot, ADD otherwise. The result
// depends only on its arguments, never on remote state, and is ordered by
// key.
func BuildAttributeOperations(snapshot, updates map[string]string) []PatchOperation {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ops := make([]PatchOperation, 0, len(keys))
	for _, key := range keys {
		op := OperationAdd
		if _, exists := snapshot[key]; exists {
			op = OperationReplace
		}
		ops = append(ops, PatchOperation{
			Operation: op,
			Path:      AttributePath(key),
			Value:     updates[key],
		})
	}
	return ops
}

// NameEquals builds a list filter matching one organization name
func NameEquals(name string) string {
	return fmt.Sprintf("name eq %q", name)
}

// NameStartsWith builds a list filter matching a name prefix
func NameStartsWith(prefix string) string {
	return fmt.Sprintf("name sw %q", prefix)
}
