package rowinserter

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Credentials identify the instance and the database user. They are parsed
// once per pool initialization and never logged.
type Credentials struct {
	InstanceConnectionName string
	DBUser                 string
	DBPassword             string
	DBName                 string
}

// String omits the password so Credentials are safe in %v.
func (c Credentials) String() string {
	return fmt.Sprintf("{instance:%s user:%s db:%s password:***}", c.InstanceConnectionName, c.DBUser, c.DBName)
}

// GoString keeps %#v from printing the password.
func (c Credentials) GoString() string { return c.String() }

type secretPayload struct {
	ConnectionName *string `json:"connection_name"`
	DBUser         *string `json:"db_user"`
	DBPassword     *string `json:"db_password"`
	DBName         *string `json:"db_name"`
}

// ParseCredentials decodes a secret payload such as
//
//	{"connection_name":"proj:region:inst","db_user":"u","db_password":"p","db_name":"appdb"}
//
// All four fields must be present; the instance and database name must not
// be empty.
func ParseCredentials(payload []byte) (Credentials, error) {
	var p secretPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		// the decoder error may quote the payload
		return Credentials{}, fmt.Errorf("%w: not a JSON object", ErrMalformedSecret)
	}

	var missing []string
	if p.ConnectionName == nil || strings.TrimSpace(*p.ConnectionName) == "" {
		missing = append(missing, "connection_name")
	}
	if p.DBUser == nil {
		missing = append(missing, "db_user")
	}
	if p.DBPassword == nil {
		missing = append(missing, "db_password")
	}
	if p.DBName == nil || strings.TrimSpace(*p.DBName) == "" {
		missing = append(missing, "db_name")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: missing %s", ErrMalformedSecret, strings.Join(missing, ", "))
	}

	return Credentials{
		InstanceConnectionName: strings.TrimSpace(*p.ConnectionName),
		DBUser:                 *p.DBUser,
		DBPassword:             *p.DBPassword,
		DBName:                 strings.TrimSpace(*p.DBName),
	}, nil
}
