package apiclient

import (
	"strings"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/tidwall/gjson"
)

// faultShape recognises one vendor's way of reporting an expired token.
type faultShape struct {
	name    string
	extract func(body gjson.Result) (string, bool)
	matches func(value string) bool
}

// expiredTokenShapes are evaluated in order; the first match wins.
var expiredTokenShapes = []faultShape{
	{
		// {"error": "invalid_grant"} or {"error": {"code": "invalid_grant"}}
		name: "oauth2",
		extract: func(body gjson.Result) (string, bool) {
			errValue := body.Get("error")
			if errValue.IsObject() {
				errValue = errValue.Get("code")
			}

			if errValue.Type != gjson.String {
				return "", false
			}

			return errValue.String(), true
		},
		matches: func(value string) bool {
			return value == "invalid_grant" || value == "invalid_token"
		},
	},
	{
		// {"fault": {"faultstring": "Invalid Access Token"}} as sent by Apigee.
		name: "apigee",
		extract: func(body gjson.Result) (string, bool) {
			fault := body.Get("fault.faultstring")
			if fault.Type != gjson.String {
				return "", false
			}

			return strings.ToLower(fault.String()), true
		},
		matches: func(value string) bool {
			return value == "invalid access token" || value == "access token expired"
		},
	},
}

// expiredTokenShape returns the name of the fault shape that marks resp as an
// expired token response. Shapes that cannot be read are not matches.
func expiredTokenShape(resp *Response) (string, bool) {
	if resp.HTTPCode() != constants.HTTPStatusUnauthorized {
		return "", false
	}

	body := gjson.ParseBytes(resp.body)
	if !body.IsObject() {
		return "", false
	}

	for _, shape := range expiredTokenShapes {
		value, ok := shape.extract(body)
		if ok && shape.matches(value) {
			return shape.name, true
		}
	}

	return "", false
}

// IsExpiredToken reports whether resp signals that the access token is no
// longer valid.
func IsExpiredToken(resp *Response) bool {
	_, expired := expiredTokenShape(resp)

	return expired
}
