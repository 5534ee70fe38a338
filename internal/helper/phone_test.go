package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "local prefix", input: "08123456789", want: "628123456789"},
		{name: "country code", input: "628123456789", want: "628123456789"},
		{name: "plus prefix", input: "+628123456789", want: "628123456789"},
		{name: "with separators", input: "0812-3456-789", want: "628123456789"},
		{name: "too short", input: "0812", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := FormatPhoneNumber(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid.User)
			assert.Equal(t, "s.whatsapp.net", jid.Server)
		})
	}
}

func TestExtractPhoneFromJID(t *testing.T) {
	assert.Equal(t, "6285148107612", ExtractPhoneFromJID("6285148107612:43@s.whatsapp.net"))
	assert.Equal(t, "6285148107612", ExtractPhoneFromJID("6285148107612@s.whatsapp.net"))
	assert.Equal(t, "6285148107612", ExtractPhoneFromJID("6285148107612"))
}
