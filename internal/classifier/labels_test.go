package classifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/clipscan/internal/errors"
)

func TestLoadLabels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{
			name:  "plain list",
			input: "Turdus merula_Eurasian Blackbird\nErithacus rubecula_European Robin\n",
			want:  []string{"Turdus merula_Eurasian Blackbird", "Erithacus rubecula_European Robin"},
		},
		{
			name:  "blank lines comments and whitespace",
			input: "# classes\n\n  owl \r\nwren\n\n",
			want:  []string{"owl", "wren"},
		},
		{name: "duplicate", input: "owl\nwren\nowl\n", wantErr: `label "owl" on line 3 duplicates line 1`},
		{name: "empty", input: "\n# nothing\n", wantErr: "no labels found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := LoadLabels(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadLabelFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("owl\nwren\n"), 0o600))

	labels, err := LoadLabelFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"owl", "wren"}, labels)

	_, err = LoadLabelFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("owl\nowl\n"), 0o600))
	_, err = LoadLabelFile(bad)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}

func TestSplitLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label, scientific, common string
	}{
		{"Turdus merula_Eurasian Blackbird", "Turdus merula", "Eurasian Blackbird"},
		{"Turdus merula_Eurasian Blackbird_eurbla", "Turdus merula", "Eurasian Blackbird"},
		{"Eurasian Blackbird", "", "Eurasian Blackbird"},
		{"Dog", "Dog", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		scientific, common := SplitLabel(tt.label)
		assert.Equal(t, tt.scientific, scientific, tt.label)
		assert.Equal(t, tt.common, common, tt.label)
	}
}
