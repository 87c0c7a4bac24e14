package notebook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlManifest = `
id: diffusion-intro
title: Diffusion basics
cells:
  - id: setup
    code: var g = 1;
  - id: run
    needs: [setup]
    code: g + 1
`

const jsonManifest = `{
	"id": "decay-intro",
	"cells": [
		{"id": "d-setup", "code": "var r = 0.5;"},
		{"id": "d-plot", "needs": ["d-setup"], "code": "r * 2"}
	]
}`

func TestParseManifestYAML(t *testing.T) {
	m, err := ParseManifest("diffusion.yaml", []byte(yamlManifest))
	require.NoError(t, err)

	assert.Equal(t, "diffusion-intro", m.ID)
	assert.Equal(t, "Diffusion basics", m.Title)
	require.Len(t, m.Cells, 2)
	assert.Equal(t, "setup", m.Cells[0].ID)
	assert.Equal(t, []string{"setup"}, m.Cells[1].Needs)
}

func TestParseManifestJSON(t *testing.T) {
	m, err := ParseManifest("decay.json", []byte(jsonManifest))
	require.NoError(t, err)

	assert.Equal(t, "decay-intro", m.ID)
	require.Len(t, m.Cells, 2)
	assert.Equal(t, []string{"d-setup"}, m.Cells[1].Needs)
}

func TestParseManifestUnsupportedExtension(t *testing.T) {
	_, err := ParseManifest("notes.txt", []byte("id: x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported extension")
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr string
	}{
		{
			name:    "missing manifest id",
			m:       Manifest{Cells: []CellSpec{{ID: "a", Code: "1"}}},
			wantErr: "manifest id is required",
		},
		{
			name:    "missing cell id",
			m:       Manifest{ID: "m", Cells: []CellSpec{{Code: "1"}}},
			wantErr: "cell id is required",
		},
		{
			name: "duplicate cell id",
			m: Manifest{ID: "m", Cells: []CellSpec{
				{ID: "a", Code: "1"},
				{ID: "a", Code: "2"},
			}},
			wantErr: "duplicate cell id: a",
		},
		{
			name: "self dependency",
			m: Manifest{ID: "m", Cells: []CellSpec{
				{ID: "a", Code: "1", Needs: []string{"a"}},
			}},
			wantErr: "depends on itself",
		},
		{
			name: "cross-manifest needs allowed",
			m: Manifest{ID: "m", Cells: []CellSpec{
				{ID: "a", Code: "1", Needs: []string{"elsewhere"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(jsonManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	manifests, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
}

func TestLoadDirBadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("cells: []"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest id is required")
}
