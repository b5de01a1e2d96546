package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInputCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addInputFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestReadInputMergesFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "farm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
location:
  name: Yuxi plot 3
  lat: 24.35
  lon: 102.54
soil:
  ph: "6.5"
crop_type: tobacco
goal:
  target_yield: 180 kg/mu
  irrigation: drip
`), 0o644))

	in, err := readInput(newInputCmd(t, "--input", path, "--crop", "rice", "--lon", "103.1"))
	require.NoError(t, err)

	assert.Equal(t, "Yuxi plot 3", in.Location.Name)
	require.NotNil(t, in.Location.Lat)
	assert.InDelta(t, 24.35, *in.Location.Lat, 1e-9)
	assert.InDelta(t, 103.1, *in.Location.Lon, 1e-9)
	assert.Equal(t, "6.5", in.Soil.PH)
	assert.Equal(t, "rice", in.CropType)
	assert.Equal(t, "drip", in.Goal.Irrigation)
	assert.Nil(t, in.Image)
}

func TestReadInputImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaf.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o644))

	in, err := readInput(newInputCmd(t, "--image", path, "--horizon", "30"))
	require.NoError(t, err)
	require.NotNil(t, in.Image)
	assert.Equal(t, "leaf.jpg", in.Image.Filename)
	assert.Len(t, in.Image.Data, 3)
	assert.Equal(t, 30, in.HorizonDays)
}

func TestReadInputBadCoordinate(t *testing.T) {
	_, err := readInput(newInputCmd(t, "--lat", "north"))
	assert.Error(t, err)
}

func TestReadQuery(t *testing.T) {
	cmd := &cobra.Command{Use: "ask"}
	cmd.Flags().String("date", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--date", "2025-07-02"}))

	assert.Nil(t, readQuery(cmd, nil))
	q := readQuery(cmd, []string{"water", "today?"})
	require.NotNil(t, q)
	assert.Equal(t, "water today?", q.Question)
	assert.Equal(t, "2025-07-02", q.Date)
}

func TestDeltaWriter(t *testing.T) {
	var buf bytes.Buffer
	d := &deltaWriter{w: &buf}
	d.end()
	assert.Empty(t, buf.String())

	d.write("## Plan\n")
	d.write("sow in April")
	d.end()
	assert.Equal(t, "## Plan\nsow in April\n", buf.String())
	assert.Equal(t, 20, d.n)
}

func TestStreamFlagDefaults(t *testing.T) {
	for _, name := range []string{"plan", "schedule", "ask"} {
		cmd, _, err := RootCmd.Find([]string{name})
		require.NoError(t, err)
		v, err := cmd.Flags().GetBool("stream")
		require.NoError(t, err, name)
		assert.True(t, v, name)
	}
	cmd, _, err := RootCmd.Find([]string{"prompt"})
	require.NoError(t, err)
	assert.Nil(t, cmd.Flags().Lookup("stream"))
}
