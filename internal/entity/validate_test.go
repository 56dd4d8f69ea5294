package entity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/calderaware/refinery/internal/entity"
)

func TestValidateTagNumbers(t *testing.T) {
	tests := []struct {
		name    string
		tags    []string
		wantErr string
	}{
		{"empty list", nil, ""},
		{"simple tags", []string{"A-1042", "b7"}, ""},
		{"max length tag", []string{strings.Repeat("x", 20)}, ""},
		{"too long", []string{strings.Repeat("x", 21)}, "invalid tag number"},
		{"empty tag", []string{""}, "invalid tag number"},
		{"illegal character", []string{"A_1042"}, "invalid tag number"},
		{"whitespace", []string{"A 1042"}, "invalid tag number"},
		{"duplicate", []string{"A-1", "A-1"}, "duplicate tag number"},
		{
			"too many",
			[]string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11"},
			"at most",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := entity.ValidateTagNumbers(tt.tags)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
