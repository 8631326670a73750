package main

import (
	"testing"

	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    types.ObjectAddress
		wantErr bool
	}{
		{"joined", []string{"coll:1/TIFF"}, types.NewObjectAddress("coll:1", "TIFF"), false},
		{"separate", []string{"coll:1", "TIFF"}, types.NewObjectAddress("coll:1", "TIFF"), false},
		{"trimmed", []string{" coll:1 ", " TIFF"}, types.NewObjectAddress("coll:1", "TIFF"), false},
		{"missing dsid", []string{"coll:1"}, types.ObjectAddress{}, true},
		{"empty dsid", []string{"coll:1/"}, types.ObjectAddress{}, true},
		{"extra segment", []string{"coll:1/TIFF/x"}, types.ObjectAddress{}, true},
		{"too many", []string{"a", "b", "c"}, types.ObjectAddress{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAddress(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(types.OutcomeSuccess))
	assert.Equal(t, 2, exitCode(types.OutcomeChecksumMismatch))
	assert.Equal(t, 3, exitCode(types.OutcomeTransportError))
	assert.Equal(t, 4, exitCode(types.OutcomeMetadataError))
}

func TestProgressTrackerDisabled(t *testing.T) {
	tracker := newProgressTracker(false)
	assert.Nil(t, tracker.Track("x"))
	tracker.Finish(true)
	tracker.Wait()
}
