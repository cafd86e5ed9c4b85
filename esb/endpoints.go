// Package esb logs into the ESB Networks customer portal and downloads
// smart-meter HDF exports.
package esb

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Portal defaults. None of these are documented by ESB and may change.
const (
	DefaultPortalURL = "https://myaccount.esbnetworks.ie/"
	DefaultLoginURL  = "https://login.esbnetworks.ie/esbntwkscustportalprdb2c01.onmicrosoft.com"
	DefaultPolicy    = "B2C_1A_signup_signin"
	DefaultExportURL = "https://myaccount.esbnetworks.ie/DataHub/DownloadHdf"

	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.0.0 Safari/537.36"

	// StartDateLayout is the format of the export startDate parameter
	StartDateLayout = "2006-01-02"
)

// Credentials identify the portal account and the meter to export
type Credentials struct {
	Username string
	Password string
	MPRN     string
}

// Endpoints holds the portal and identity provider URLs
type Endpoints struct {
	PortalURL string
	LoginURL  string
	Policy    string
	ExportURL string
}

// DefaultEndpoints returns the production ESB Networks endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		PortalURL: DefaultPortalURL,
		LoginURL:  DefaultLoginURL,
		Policy:    DefaultPolicy,
		ExportURL: DefaultExportURL,
	}
}

// withDefaults fills empty fields from DefaultEndpoints
func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.PortalURL == "" {
		e.PortalURL = d.PortalURL
	}
	if e.LoginURL == "" {
		e.LoginURL = d.LoginURL
	}
	if e.Policy == "" {
		e.Policy = d.Policy
	}
	if e.ExportURL == "" {
		e.ExportURL = d.ExportURL
	}
	return e
}

// selfAssertedURL is the credential verification endpoint. The transaction
// id is passed through unescaped, as the B2C page script does.
func (e Endpoints) selfAssertedURL(transID, policy string) string {
	return fmt.Sprintf("%s/%s/SelfAsserted?tx=%s&p=%s",
		strings.TrimRight(e.LoginURL, "/"), policy, transID, url.QueryEscape(policy))
}

// confirmedURL completes the combined sign-in handshake
func (e Endpoints) confirmedURL(settings *Settings, policy string) string {
	q := url.Values{}
	q.Set("rememberMe", "false")
	q.Set("csrf_token", settings.CSRF)
	q.Set("tx", settings.TransID)
	q.Set("p", policy)
	return fmt.Sprintf("%s/%s/api/CombinedSigninAndSignup/confirmed?%s",
		strings.TrimRight(e.LoginURL, "/"), policy, q.Encode())
}

// exportURL requests every reading from start until now
func (e Endpoints) exportURL(mprn string, start time.Time) string {
	q := url.Values{}
	q.Set("mprn", mprn)
	q.Set("startDate", start.Format(StartDateLayout))
	return e.ExportURL + "?" + q.Encode()
}
