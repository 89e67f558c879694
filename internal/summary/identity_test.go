package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityResolver_Names(t *testing.T) {
	r := NewIdentityResolver(FieldMapping{FirstName: "first_name", LastName: "last_name", Creator: "Creator"})
	assert.Equal(t, StrategyNames, r.Strategy())

	tests := []struct {
		name string
		rec  ActivityRecord
		want Identity
	}{
		{"both", ActivityRecord{FirstName: " Maria ", LastName: "Garcia "}, Identity{"Maria Garcia", IdentityResolved}},
		{"first only", ActivityRecord{FirstName: "Kofi"}, Identity{"Kofi", IdentityResolved}},
		{"last only", ActivityRecord{LastName: "Okonkwo"}, Identity{"Okonkwo", IdentityResolved}},
		{"blank", ActivityRecord{FirstName: "  ", LastName: ""}, Identity{AnonymousLabel, IdentityAnonymous}},
		{"creator ignored", ActivityRecord{Creator: "jdoe"}, Identity{AnonymousLabel, IdentityAnonymous}},
		{"stringified null", ActivityRecord{FirstName: "nan", LastName: "None"}, Identity{AnonymousLabel, IdentityAnonymous}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.rec))
		})
	}
}

func TestIdentityResolver_Creator(t *testing.T) {
	// A single name column is not enough to use names.
	r := NewIdentityResolver(FieldMapping{FirstName: "first_name", Creator: "Creator"})
	assert.Equal(t, StrategyCreator, r.Strategy())

	assert.Equal(t, Identity{"jdoe_redcross", IdentityResolved}, r.Resolve(ActivityRecord{Creator: " jdoe_redcross "}))
	assert.Equal(t, Identity{AnonymousLabel, IdentityAnonymous}, r.Resolve(ActivityRecord{FirstName: "Ann"}))
}

func TestIdentityResolver_NoFields(t *testing.T) {
	r := NewIdentityResolver(FieldMapping{})
	assert.Equal(t, StrategyNone, r.Strategy())

	for _, rec := range []ActivityRecord{{}, {Creator: "x", FirstName: "a", LastName: "b"}} {
		assert.Equal(t, Identity{UnknownLabel, IdentityUnknown}, r.Resolve(rec))
	}
}
