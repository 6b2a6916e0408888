package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movierec/internal/service"
)

const catalogueCSV = `show_id,type,title,director,cast,country,date_added,release_year,rating,duration,listed_in,description
s1,Movie,Star Ranch,Ann Lee,Clint Eastwood,US,2020,2001,PG,100 min,Westerns,Space cowboys ride across the galaxy.
s2,TV Show,Baking Time,,Mary Berry,UK,2019,2015,TV-G,3 Seasons,Reality,A gentle cooking competition with cakes.
s3,Movie,Orbit,Jon Park,Sandra Bullock,US,2018,2013,PG-13,91 min,Drama,Astronauts drift in space after an accident.
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "titles.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(catalogueCSV), 0o600))

	cfg := `corpus:
  name: test
  source: ` + csvPath + `
encoder:
  type: hashing
  dimension: 64
vector_store:
  type: badger
  badger:
    dir: ` + filepath.Join(dir, "badger") + `
logging:
  level: disabled
`
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0o600))
	return cfgFile
}

// resetFlags puts every flag of cmd and its subcommands back to its default,
// since the command tree and its flag variables are package globals.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIngestRecommendCount(t *testing.T) {
	cfgFile := writeFixture(t)

	out, err := run(t, "--config", cfgFile, "ingest")
	require.NoError(t, err, out)
	assert.Contains(t, out, "rows=3 written=3 failed=0")

	out, err = run(t, "--config", cfgFile, "count")
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(out))

	out, err = run(t, "--config", cfgFile, "recommend", "space", "cowboys", "ride", "the", "galaxy", "-n", "2", "--json")
	require.NoError(t, err, out)
	var recs []service.Recommendation
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "Star Ranch", recs[0].Metadata.Title)
	assert.Equal(t, 1, recs[0].Rank)
	assert.GreaterOrEqual(t, recs[0].Score, recs[1].Score)
}

func TestRecommendNeedsQuery(t *testing.T) {
	cfgFile := writeFixture(t)
	_, err := run(t, "--config", cfgFile, "recommend")
	assert.Error(t, err)
}

func TestIngestMissingSource(t *testing.T) {
	cfgFile := writeFixture(t)
	_, err := run(t, "--config", cfgFile, "ingest", "--source", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestFlagsDoNotLeakBetweenRuns(t *testing.T) {
	cfgFile := writeFixture(t)
	_, err := run(t, "--config", cfgFile, "ingest")
	require.NoError(t, err)

	out, err := run(t, "--config", cfgFile, "recommend", "--like", "2", "-n", "1", "--json")
	require.NoError(t, err, out)
	var recs []service.Recommendation
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)

	// no --like, -n or --json this time: a text query printed as a table
	out, err = run(t, "--config", cfgFile, "recommend", "cakes")
	require.NoError(t, err, out)
	assert.True(t, strings.HasPrefix(out, "RANK"), out)
	assert.Contains(t, out, "Baking Time")
	assert.Equal(t, 0, recommendCount)
	assert.False(t, recommendJSON)
	assert.False(t, recommendCmd.Flags().Changed("like"))
}
