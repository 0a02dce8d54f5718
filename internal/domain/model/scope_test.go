package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScopeContext_DedupesAndDropsEmpty(t *testing.T) {
	scope := NewScopeContext(
		[]string{"CENTRAL", "CENTRAL", "", "HARRISBURG"},
		[]string{"Asplundh", "Asplundh"},
		"ASPLUNDH", "jdoe", 7,
	)

	assert.Equal(t, []string{"CENTRAL", "HARRISBURG"}, scope.Regions())
	assert.Equal(t, []string{"Asplundh"}, scope.Organizations())
	assert.Equal(t, int64(7), scope.CallerID())
}

func TestScopeContext_AccessorsReturnCopies(t *testing.T) {
	scope := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)

	regions := scope.Regions()
	regions[0] = "mutated"

	assert.Equal(t, []string{"CENTRAL"}, scope.Regions())
}

func TestScopeContext_IsValid(t *testing.T) {
	tests := []struct {
		name          string
		regions       []string
		organizations []string
		want          bool
	}{
		{"both populated", []string{"CENTRAL"}, []string{"Asplundh"}, true},
		{"no regions", nil, []string{"Asplundh"}, false},
		{"no organizations", []string{"CENTRAL"}, nil, false},
		{"both empty", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := NewScopeContext(tt.regions, tt.organizations, "ASPLUNDH", "jdoe", 1)
			assert.Equal(t, tt.want, scope.IsValid())
		})
	}
}

func TestCacheHash_OrderIndependent(t *testing.T) {
	a := NewScopeContext([]string{"CENTRAL", "HARRISBURG"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)
	b := NewScopeContext([]string{"HARRISBURG", "CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)

	assert.Equal(t, a.CacheHash(), b.CacheHash())
}

func TestCacheHash_CallerIndependent(t *testing.T) {
	a := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)
	b := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "OTHER", "msmith", 42)

	assert.Equal(t, a.CacheHash(), b.CacheHash(),
		"callers with the same regions and organizations must share a hash")
}

func TestCacheHash_DuplicateIndependent(t *testing.T) {
	a := NewScopeContext([]string{"CENTRAL", "CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)
	b := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)

	assert.Equal(t, a.CacheHash(), b.CacheHash())
}

func TestCacheHash_SensitiveToScopeValues(t *testing.T) {
	base := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)
	otherRegion := NewScopeContext([]string{"LEHIGH"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)
	otherOrg := NewScopeContext([]string{"CENTRAL"}, []string{"Other"}, "ASPLUNDH", "jdoe", 1)

	assert.NotEqual(t, base.CacheHash(), otherRegion.CacheHash())
	assert.NotEqual(t, base.CacheHash(), otherOrg.CacheHash())
}

func TestCacheHash_IsHexSHA256(t *testing.T) {
	scope := NewScopeContext([]string{"CENTRAL"}, []string{"Asplundh"}, "ASPLUNDH", "jdoe", 1)

	hash := scope.CacheHash()
	require.Len(t, hash, 64)
	for _, r := range hash {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}
