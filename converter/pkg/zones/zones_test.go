package zones

import (
	"strings"
	"testing"

	guesstesting "github.com/GeorgeGarkavenko/guess/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestGuess_Zones_Load(t *testing.T) {
	t.Parallel()

	input := "100|5012\n100|5501\n200|1111\n200|\n|2222\n100|5012\n"
	zs, err := Load(guesstesting.NewLogger(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, zs, 2)
	require.Equal(t, 2, zs["100"].Size())
	require.Contains(t, zs["100"].Members, "5501")
	require.Equal(t, 1, zs["200"].Size())
}

func TestGuess_Zones_LoadFile(t *testing.T) {
	t.Parallel()

	path := guesstesting.WriteFile(t, "stores.txt", "100|5012\n100|5501\n")
	zs, err := LoadFile(guesstesting.NewLogger(), path)
	require.NoError(t, err)
	require.Equal(t, 2, zs["100"].Size())

	_, err = LoadFile(guesstesting.NewLogger(), path+".missing")
	require.Error(t, err)
}
