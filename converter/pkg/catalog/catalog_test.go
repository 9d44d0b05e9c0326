package catalog

import (
	"strings"
	"testing"

	guesstesting "github.com/GeorgeGarkavenko/guess/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestGuess_Catalog_Load(t *testing.T) {
	t.Parallel()

	t.Run("requires a logger", func(t *testing.T) {
		t.Parallel()

		c, err := Load(strings.NewReader(""), Options{})
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("indexes variants by style and drops excluded rows", func(t *testing.T) {
		t.Parallel()

		c, err := Load(strings.NewReader(guesstesting.BackToSchoolCatalog), Options{Logger: guesstesting.NewLogger()})
		require.NoError(t, err)
		require.Equal(t, 1, c.Len())
		require.Equal(t, 1, c.Excluded())
		require.Equal(t, []string{"23002G3"}, c.Styles())

		variants := c.Variants("23002G3")
		require.Len(t, variants, 6)
		require.Equal(t, "BLUE", variants["11066280"])
		require.NotContains(t, variants, "11066284")

		sorted := c.SortedVariants("23002G3")
		require.Len(t, sorted, 6)
		require.Equal(t, Variant{Code: "11066278", Color: "RED"}, sorted[0])
		require.Equal(t, "11066283", sorted[5].Code)
	})

	t.Run("custom excluded statuses", func(t *testing.T) {
		t.Parallel()

		input := "V1|S1|RED||D\nV2|S1|BLUE||A\nV3|S1|GREEN||X\n"
		c, err := Load(strings.NewReader(input), Options{
			Logger:           guesstesting.NewLogger(),
			ExcludedStatuses: []string{"D"},
		})
		require.NoError(t, err)
		require.Equal(t, 1, c.Excluded())
		require.Equal(t, map[string]string{"V2": "BLUE", "V3": "GREEN"}, c.Variants("S1"))
	})

	t.Run("missing trailing fields and malformed rows", func(t *testing.T) {
		t.Parallel()

		input := "V1|S1\n|S2|RED\nV3||RED\n"
		c, err := Load(strings.NewReader(input), Options{Logger: guesstesting.NewLogger()})
		require.NoError(t, err)
		require.Equal(t, map[string]string{"V1": ""}, c.Variants("S1"))
		require.Equal(t, 2, c.Malformed())
	})
}

func TestGuess_Catalog_Variants(t *testing.T) {
	t.Parallel()

	t.Run("unknown style yields empty mapping", func(t *testing.T) {
		t.Parallel()

		c := Empty()
		v := c.Variants("NOPE")
		require.NotNil(t, v)
		require.Empty(t, v)
		require.Empty(t, c.SortedVariants("NOPE"))
	})

	t.Run("returned map is a copy", func(t *testing.T) {
		t.Parallel()

		c, err := Load(strings.NewReader("V1|S1|RED||A\n"), Options{Logger: guesstesting.NewLogger()})
		require.NoError(t, err)
		v := c.Variants("S1")
		v["V9"] = "PINK"
		require.Len(t, c.Variants("S1"), 1)
	})
}

func TestGuess_Catalog_LoadFile(t *testing.T) {
	t.Parallel()

	path := guesstesting.WriteFile(t, "iteminfo.txt", guesstesting.BackToSchoolCatalog)
	c, err := LoadFile(path, Options{Logger: guesstesting.NewLogger()})
	require.NoError(t, err)
	require.Len(t, c.Variants("23002G3"), 6)

	_, err = LoadFile(path+".missing", Options{Logger: guesstesting.NewLogger()})
	require.Error(t, err)
}
