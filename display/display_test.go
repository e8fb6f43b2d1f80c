package display

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "status"}
	cmd.Flags().Bool("json", false, "")
	return cmd
}

func TestShouldOutputJSON(t *testing.T) {
	t.Run("default is tables", func(t *testing.T) {
		t.Setenv(OutputEnv, "")
		assert.False(t, ShouldOutputJSON(newCmd()))
	})

	t.Run("env selects json", func(t *testing.T) {
		t.Setenv(OutputEnv, "JSON")
		assert.True(t, ShouldOutputJSON(newCmd()))
		assert.True(t, ShouldOutputJSON(nil))
	})

	t.Run("explicit flag wins over env", func(t *testing.T) {
		t.Setenv(OutputEnv, "json")
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("json", "false"))
		assert.False(t, ShouldOutputJSON(cmd))
	})

	t.Run("flag on", func(t *testing.T) {
		t.Setenv(OutputEnv, "")
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("json", "true"))
		assert.True(t, ShouldOutputJSON(cmd))
	})
}

func TestMarshalJSON(t *testing.T) {
	data, err := MarshalJSON(map[string]int{"processed": 3})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"processed\": 3\n}", string(data))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "-", Duration(0))
	assert.Equal(t, "250ms", Duration(250*time.Millisecond+400*time.Microsecond))
	assert.Equal(t, "1m2.3s", Duration(62*time.Second+340*time.Millisecond))
}

func TestTime(t *testing.T) {
	assert.Contains(t, Time(time.Time{}), "-")

	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)
	assert.Equal(t, "2024-03-01 09:30:00", Time(ts))
}
