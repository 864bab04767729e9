package rowinserter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredentials(t *testing.T) {
	creds, err := ParseCredentials([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, Credentials{
		InstanceConnectionName: "proj:region:inst",
		DBUser:                 "u",
		DBPassword:             "p",
		DBName:                 "appdb",
	}, creds)
}

func TestParseCredentials_IgnoresExtraFields(t *testing.T) {
	creds, err := ParseCredentials([]byte(`{"connection_name":"a:b:c","db_user":"u","db_password":"","db_name":"d","region":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "a:b:c", creds.InstanceConnectionName)
	assert.Empty(t, creds.DBPassword)
}

func TestParseCredentials_MissingField(t *testing.T) {
	fields := map[string]string{
		"connection_name": `{"db_user":"u","db_password":"p","db_name":"appdb"}`,
		"db_user":         `{"connection_name":"p:r:i","db_password":"p","db_name":"appdb"}`,
		"db_password":     `{"connection_name":"p:r:i","db_user":"u","db_name":"appdb"}`,
		"db_name":         `{"connection_name":"p:r:i","db_user":"u","db_password":"p"}`,
	}
	for field, payload := range fields {
		t.Run(field, func(t *testing.T) {
			_, err := ParseCredentials([]byte(payload))
			require.ErrorIs(t, err, ErrMalformedSecret)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestParseCredentials_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"not json", `connection_name=x`},
		{"array", `["a"]`},
		{"null", `null`},
		{"wrong type", `{"connection_name":1,"db_user":"u","db_password":"p","db_name":"d"}`},
		{"blank instance", `{"connection_name":" ","db_user":"u","db_password":"p","db_name":"d"}`},
		{"blank database", `{"connection_name":"p:r:i","db_user":"u","db_password":"p","db_name":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredentials([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedSecret)
		})
	}
}

func TestParseCredentials_ErrorDoesNotLeakPassword(t *testing.T) {
	_, err := ParseCredentials([]byte(`{"db_password":"hunter2",`))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestCredentials_StringRedactsPassword(t *testing.T) {
	creds, err := ParseCredentials([]byte(testSecret))
	require.NoError(t, err)

	for _, s := range []string{creds.String(), fmt.Sprintf("%v", creds), fmt.Sprintf("%+v", creds), fmt.Sprintf("%#v", creds)} {
		assert.NotContains(t, s, `"p"`)
		assert.NotContains(t, s, "password:p")
		assert.Contains(t, s, "proj:region:inst")
	}
}
