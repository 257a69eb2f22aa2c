package tus

import (
	"testing"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    types.Metadata
		wantErr bool
	}{
		{name: "empty", header: "", want: nil},
		{
			name:   "ordered pairs",
			header: "filename d29ybGRfZG9taW5hdGlvbl9wbGFuLnBkZg==,is_confidential,filetype YXBwbGljYXRpb24vcGRm",
			want: types.Metadata{
				{Key: "filename", Value: "world_domination_plan.pdf"},
				{Key: "is_confidential", Value: ""},
				{Key: "filetype", Value: "application/pdf"},
			},
		},
		{name: "surrounding spaces", header: " name Zm9v , k ", want: types.Metadata{{Key: "name", Value: "foo"}, {Key: "k", Value: ""}}},
		{name: "bad base64", header: "name !!!", wantErr: true},
		{name: "duplicate key", header: "a Zm9v,a YmFy", wantErr: true},
		{name: "empty pair", header: "a Zm9v,,b", wantErr: true},
		{name: "non ascii key", header: "närrisch Zm9v", wantErr: true},
		{name: "value with space", header: "a Zm9v YmFy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMetadata(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	md := types.Metadata{{Key: "filename", Value: "a b.txt"}, {Key: "flag", Value: ""}}
	header := FormatMetadata(md)
	assert.Equal(t, "filename YSBiLnR4dA==,flag", header)

	got, err := ParseMetadata(header)
	require.NoError(t, err)
	assert.Equal(t, md, got)
}

func TestParseConcat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    ConcatHeader
		wantErr bool
	}{
		{name: "absent", header: "", want: ConcatHeader{}},
		{name: "partial", header: "partial", want: ConcatHeader{Partial: true}},
		{
			name:   "final with paths",
			header: "final;/files/a /files/b",
			want:   ConcatHeader{Final: true, Parts: []string{"a", "b"}},
		},
		{
			name:   "final with urls",
			header: "final;https://tus.example.org/files/a  https://tus.example.org/files/b/",
			want:   ConcatHeader{Final: true, Parts: []string{"a", "b"}},
		},
		{name: "final without parts", header: "final;", wantErr: true},
		{name: "unknown", header: "whole", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseConcat(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatConcat(t *testing.T) {
	t.Parallel()

	loc := func(id string) string { return "/files/" + id }
	assert.Equal(t, "partial", FormatConcat(&types.Upload{Partial: true}, loc))
	assert.Equal(t, "final;/files/a /files/b", FormatConcat(&types.Upload{ConcatParts: []string{"a", "b"}}, loc))
	assert.Equal(t, "", FormatConcat(&types.Upload{}, loc))
}
