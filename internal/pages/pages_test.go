package pages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_TemplateOnly(t *testing.T) {
	t.Parallel()

	tasks, err := Build(Plan{
		BaseURLTemplate: "https://example.com/listings?page={page_number}",
		PageIncrement:   1,
		LastPageNumber:  3,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "https://example.com/listings?page=1", tasks[0].URL)
	require.Equal(t, "https://example.com/listings?page=3", tasks[2].URL)
	require.Equal(t, 1, tasks[0].PageIndex)
	require.Equal(t, 3, tasks[2].PageIndex)
}

func TestBuild_FirstURLOverridesPageOne(t *testing.T) {
	t.Parallel()

	tasks, err := Build(Plan{
		BaseURLTemplate: "https://example.com/satilik?page={page_number}",
		FirstURL:        "https://example.com/satilik",
		PageIncrement:   1,
		LastPageNumber:  3,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "https://example.com/satilik", tasks[0].URL)
	require.Equal(t, "https://example.com/satilik?page=2", tasks[1].URL)
	require.Equal(t, "https://example.com/satilik?page=3", tasks[2].URL)
}

func TestBuild_CustomIncrement(t *testing.T) {
	t.Parallel()

	tasks, err := Build(Plan{
		BaseURLTemplate: "https://example.com/p/{page_number}",
		PageIncrement:   24,
		LastPageNumber:  3,
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/p/24", tasks[0].URL)
	require.Equal(t, "https://example.com/p/48", tasks[1].URL)
	require.Equal(t, "https://example.com/p/72", tasks[2].URL)
}

func TestBuild_RejectsTemplateWithoutPlaceholder(t *testing.T) {
	t.Parallel()

	_, err := Build(Plan{
		BaseURLTemplate: "https://example.com/listings",
		LastPageNumber:  2,
	})
	require.Error(t, err)
}

func TestBuild_RejectsEmptyPlan(t *testing.T) {
	t.Parallel()

	_, err := Build(Plan{LastPageNumber: 2})
	require.Error(t, err)

	_, err = Build(Plan{BaseURLTemplate: "https://example.com/{page_number}"})
	require.Error(t, err)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "links.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCSV_ReadsColumnInOrder(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "name,@id\nfirst,https://example.com/a\nsecond,https://example.com/b\n")
	tasks, err := LoadCSV(path, "@id")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "https://example.com/a", tasks[0].URL)
	require.Equal(t, 1, tasks[0].PageIndex)
	require.Equal(t, "https://example.com/b", tasks[1].URL)
	require.Equal(t, 2, tasks[1].PageIndex)
}

func TestLoadCSV_SkipsDuplicatesAndBlanks(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "@id\nhttps://example.com/a\n\nhttps://example.com/a\nhttps://example.com/b\n")
	tasks, err := LoadCSV(path, "@id")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestLoadCSV_MissingColumn(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "name,link\nx,https://example.com/a\n")
	_, err := LoadCSV(path, "@id")
	require.Error(t, err)
	require.Contains(t, err.Error(), "@id")
}

func TestLoadCSV_EmptyList(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "@id\n")
	_, err := LoadCSV(path, "@id")
	require.Error(t, err)
}
