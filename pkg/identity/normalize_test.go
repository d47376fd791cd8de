package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIsIdempotent(t *testing.T) {
	cases := []string{
		"  Ada@Corp.Example ",
		"ada@corp.example",
		"GRACE@PARTNER.EXAMPLE",
		"",
	}
	for _, raw := range cases {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "input %q", raw)
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "corp.example", Domain("ada@corp.example"))
	assert.Empty(t, Domain("not-an-email"))
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ada@corp.example"))
	assert.Error(t, ValidateEmail("ada"))
	assert.Error(t, ValidateEmail("Ada Lovelace <ada@corp.example>"))
	assert.Error(t, ValidateEmail(""))
}

func TestNormalizeRow(t *testing.T) {
	row, err := NormalizeRow(ImportRow{
		FirstName: "  Ada ",
		LastName:  " Lovelace",
		Emails: []string{
			" Ada@Corp.Example ",
			"ada@corp.example",
			"ada@partner.example",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada", row.FirstName)
	assert.Equal(t, "Lovelace", row.LastName)
	// Duplicates collapse after normalization, first occurrence kept.
	assert.Equal(t, []string{"ada@corp.example", "ada@partner.example"}, row.Emails)
}

func TestNormalizeRowRejectsBadRows(t *testing.T) {
	tests := []struct {
		name string
		row  ImportRow
	}{
		{"missing name", ImportRow{LastName: "Hopper", Emails: []string{"grace@corp.example"}}},
		{"no emails", ImportRow{FirstName: "Grace", LastName: "Hopper"}},
		{"invalid email", ImportRow{FirstName: "Grace", LastName: "Hopper", Emails: []string{"grace"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRow(tt.row)
			require.Error(t, err)
			assert.True(t, IsInvalidRow(err))
		})
	}
}
