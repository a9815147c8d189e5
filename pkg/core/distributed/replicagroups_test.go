// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicaGroups(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		tests := []struct {
			name    string
			groups  ReplicaGroups
			wantErr bool
		}{
			{"all", nil, false},
			{"pairs", ReplicaGroups{{0, 1}, {2, 3}}, false},
			{"empty group", ReplicaGroups{{0, 1}, {}}, true},
			{"different sizes", ReplicaGroups{{0, 1}, {2}}, true},
			{"negative id", ReplicaGroups{{0, -1}}, true},
			{"duplicate within", ReplicaGroups{{0, 0}}, true},
			{"duplicate across", ReplicaGroups{{0, 1}, {1, 2}}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.groups.Validate()
				if tt.wantErr {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
				}
			})
		}
	})

	t.Run("Canonical", func(t *testing.T) {
		g := ReplicaGroups{{2, 3}, {0, 1}}
		assert.Equal(t, ReplicaGroups{{0, 1}, {2, 3}}, g.Canonical())
		assert.Equal(t, ReplicaGroups{{2, 3}, {0, 1}}, g, "Canonical must not change the receiver")
		assert.True(t, g.Equal(ReplicaGroups{{0, 1}, {2, 3}}))

		// Order within a group is significant.
		assert.False(t, ReplicaGroups{{1, 0}}.Equal(ReplicaGroups{{0, 1}}))
		assert.False(t, ReplicaGroups{{0, 1}, {2, 3}}.Equal(ReplicaGroups{{0, 2}, {1, 3}}))
		assert.False(t, ReplicaGroups{{0, 1, 2, 3}}.Equal(nil))
		assert.True(t, ReplicaGroups(nil).Equal(ReplicaGroups{}))
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "{}", ReplicaGroups(nil).String())
		assert.Equal(t, "{{0,1},{2,3}}", ReplicaGroups{{0, 1}, {2, 3}}.String())
		assert.Equal(t, "{{0,1},{2,3}}", ReplicaGroups{{2, 3}, {0, 1}}.Fingerprint())
	})

	t.Run("GroupOf", func(t *testing.T) {
		g := ReplicaGroups{{0, 2}, {1, 3}}
		assert.Equal(t, 2, g.GroupSize(4))
		group, err := g.GroupOf(3, 4)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3}, group)
		_, err = g.GroupOf(5, 4)
		require.Error(t, err)

		var all ReplicaGroups
		assert.True(t, all.IsAll())
		assert.Equal(t, 4, all.GroupSize(4))
		group, err = all.GroupOf(2, 4)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, group)
		_, err = all.GroupOf(4, 4)
		require.Error(t, err)
	})

	t.Run("Clone", func(t *testing.T) {
		g := ReplicaGroups{{0, 1}}
		clone := g.Clone()
		clone[0][0] = 5
		assert.Equal(t, 0, g[0][0])
		assert.Nil(t, ReplicaGroups(nil).Clone())
	})
}
