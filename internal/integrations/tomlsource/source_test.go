package tomlsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"archetype-quiz/internal/content"
)

const sample = `
version = 1

[[partition]]
name = "Config"
rows = [
  ["welcome_sequence_1", "Hi!\\nThere"],
  ["final_cta_text", "Bye"],
]

[[partition]]
name = "Archetypes_Female"
rows = [["fairy", "You are a fairy", "a bit of a fairy"]]
`

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "content.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse_Rows(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)

	rows, err := src.Rows(context.Background(), "Config")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"welcome_sequence_1", `Hi!\nThere`}, {"final_cta_text", "Bye"}}, rows)
}

func TestRows_UnknownPartition(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)
	_, err = src.Rows(context.Background(), "Questions_Male")
	require.ErrorIs(t, err, content.ErrPartitionNotFound)
}

func TestRows_ReturnsCopies(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)
	rows, err := src.Rows(context.Background(), "Config")
	require.NoError(t, err)
	rows[0][1] = "changed"

	again, err := src.Rows(context.Background(), "Config")
	require.NoError(t, err)
	require.Equal(t, `Hi!\nThere`, again[0][1])
}

func TestParse_RejectsNewerSchema(t *testing.T) {
	_, err := Parse([]byte("version = 2\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported content schema version")
}

func TestParse_RejectsDuplicatePartition(t *testing.T) {
	_, err := Parse([]byte(`
[[partition]]
name = "Config"
[[partition]]
name = "Config"
`))
	require.ErrorContains(t, err, "duplicate partition")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("[[partition"))
	require.ErrorContains(t, err, "decode content file")
}

func TestNew_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorContains(t, err, "stat content file")
}

func TestNew_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, sample)
	src, err := New(path)
	require.NoError(t, err)

	rows, err := src.Rows(context.Background(), "Archetypes_Female")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	updated := sample + `
[[partition]]
name = "Archetypes_Male"
rows = [["king", "You are a king", "a bit of a king"]]
`
	writeFile(t, dir, updated)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	rows, err = src.Rows(context.Background(), "Archetypes_Male")
	require.NoError(t, err)
	require.Equal(t, "king", rows[0][0])
}

func TestRows_CancelledContext(t *testing.T) {
	src, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Rows(ctx, "Config")
	require.ErrorIs(t, err, context.Canceled)
}
