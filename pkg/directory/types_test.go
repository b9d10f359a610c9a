package directory

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAttributeOperations(t *testing.T) {
	snapshot := map[string]string{"lead_status": "qualified", "contact_email": "joe@acme.io"}
	updates := map[string]string{"lead_status": "converted", "converted_by": "ops"}

	ops := BuildAttributeOperations(snapshot, updates)

	require.Len(t, ops, 2)
	assert.Equal(t, PatchOperation{Operation: OperationAdd, Path: "/attributes/converted_by", Value: "ops"}, ops[0])
	assert.Equal(t, PatchOperation{Operation: OperationReplace, Path: "/attributes/lead_status", Value: "converted"}, ops[1])
}

func TestBuildAttributeOperations_EmptyValueInSnapshotStillReplaces(t *testing.T) {
	ops := BuildAttributeOperations(map[string]string{"assigned_to": ""}, map[string]string{"assigned_to": "ops"})
	require.Len(t, ops, 1)
	assert.Equal(t, OperationReplace, ops[0].Operation)
}

func TestBuildAttributeOperations_IsPureFunctionOfSnapshot(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		snapshot := map[string]string{}
		updates := map[string]string{}
		for i := 0; i < 20; i++ {
			key := "k" + strconv.Itoa(rng.Intn(30))
			if rng.Intn(2) == 0 {
				snapshot[key] = "old"
			} else {
				updates[key] = "new" + strconv.Itoa(i)
			}
		}

		first := BuildAttributeOperations(snapshot, updates)
		second := BuildAttributeOperations(snapshot, updates)
		assert.Equal(t, first, second, "same inputs must give the same operations")
		require.Len(t, first, len(updates))

		for _, op := range first {
			key, ok := AttributeKey(op.Path)
			require.True(t, ok)
			_, inSnapshot := snapshot[key]
			if inSnapshot {
				assert.Equal(t, OperationReplace, op.Operation, key)
			} else {
				assert.Equal(t, OperationAdd, op.Operation, key)
			}
			assert.Equal(t, updates[key], op.Value)
		}
	}
}

func TestBuildAttributeOperations_DoesNotMutateInputs(t *testing.T) {
	snapshot := map[string]string{"a": "1"}
	updates := map[string]string{"a": "2", "b": "3"}

	BuildAttributeOperations(snapshot, updates)

	assert.Equal(t, map[string]string{"a": "1"}, snapshot)
	assert.Equal(t, map[string]string{"a": "2", "b": "3"}, updates)
}

func TestAttributePaths(t *testing.T) {
	assert.Equal(t, "/attributes/lead_status", AttributePath("lead_status"))

	key, ok := AttributeKey("/attributes/lead_status")
	assert.True(t, ok)
	assert.Equal(t, "lead_status", key)

	_, ok = AttributeKey(PathName)
	assert.False(t, ok)
}

func TestFilters(t *testing.T) {
	assert.Equal(t, `name eq "lead-acme"`, NameEquals("lead-acme"))
	assert.Equal(t, `name sw "lead-"`, NameStartsWith(LeadPrefix))
}

func TestOrganization(t *testing.T) {
	org := Organization{
		ID:   "org-1",
		Name: "lead-acme",
		Attributes: []Attribute{
			{Key: "contact_email", Value: "joe@acme.io"},
			{Key: "lead_status", Value: "new"},
			{Key: "lead_status", Value: "qualified"},
		},
	}

	assert.True(t, org.IsLead())
	assert.Equal(t, "qualified", org.AttributeMap()["lead_status"])
	assert.Equal(t, "joe@acme.io", org.Lead().ContactEmail)

	org.Name = "acme"
	assert.False(t, org.IsLead())
}
