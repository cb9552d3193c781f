package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesMessageGraph(t *testing.T) {
	want := map[string]bool{
		"messages":          false,
		"message_versions":  false,
		"message_contents":  false,
		"message_states":    false,
		"message_reactions": false,
	}
	for _, model := range PersistentModels() {
		if tabler, ok := model.(interface{ TableName() string }); ok {
			if _, tracked := want[tabler.TableName()]; tracked {
				want[tabler.TableName()] = true
			}
		}
	}
	for table, found := range want {
		require.True(t, found, "PersistentModels should include %s", table)
	}
}
