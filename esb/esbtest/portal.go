// Package esbtest provides an in-process imitation of the ESB Networks portal
// and its B2C identity provider for tests.
package esbtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Handshake values served by the fake identity provider
const (
	TransID    = "StateProperties=eyJUSUQiOiI1ZjM0YjE2Ny0wMDAwIn0"
	CSRF       = "dGVzdC1jc3JmLXRva2Vu"
	Policy     = "B2C_1A_signup_signin"
	State      = "state-value"
	ClientInfo = "client-info-value"
	Code       = "authorization-code"

	tenantPath   = "/tenant"
	exportPath   = "/DataHub/DownloadHdf"
	callbackPath = "/signin-oidc"
	sessionName  = ".AspNetCore.Cookies"
	transName    = "x-ms-cpim-trans"
)

// Portal is a running fake portal. Exported fields may be changed between
// requests.
type Portal struct {
	Server *httptest.Server

	Username string
	Password string
	MPRN     string

	// Export is the body served by the download endpoint
	Export            string
	ExportContentType string
	// LoginPage overrides the page served in place of the B2C login page
	LoginPage string

	mu        sync.Mutex
	hits      map[string]int
	startDate string
}

// NewPortal starts a fake portal accepting the given credentials
func NewPortal(username, password, mprn, export string) *Portal {
	p := &Portal{
		Username:          username,
		Password:          password,
		MPRN:              mprn,
		Export:            export,
		ExportContentType: "text/csv; charset=utf-8",
		LoginPage:         SettingsPage(TransID, CSRF),
		hits:              make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleLanding)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc(tenantPath+"/"+Policy+"/SelfAsserted", p.handleSelfAsserted)
	mux.HandleFunc(tenantPath+"/"+Policy+"/api/CombinedSigninAndSignup/confirmed", p.handleConfirmed)
	mux.HandleFunc(callbackPath, p.handleCallback)
	mux.HandleFunc(exportPath, p.handleExport)

	p.Server = httptest.NewServer(mux)
	return p
}

// Close shuts the server down
func (p *Portal) Close() {
	p.Server.Close()
}

// PortalURL is the landing page URL
func (p *Portal) PortalURL() string { return p.Server.URL + "/" }

// LoginURL is the identity provider tenant base URL
func (p *Portal) LoginURL() string { return p.Server.URL + tenantPath }

// ExportURL is the export download URL
func (p *Portal) ExportURL() string { return p.Server.URL + exportPath }

// Hits returns how many requests reached the handler for path
func (p *Portal) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// StartDate returns the startDate parameter of the last export request
func (p *Portal) StartDate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startDate
}

func (p *Portal) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits[r.URL.Path]++
	if r.URL.Path == exportPath {
		p.startDate = r.URL.Query().Get("startDate")
	}
}

func (p *Portal) handleLanding(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/authorize", http.StatusFound)
}

func (p *Portal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, p.LoginPage)
}

func (p *Portal) handleSelfAsserted(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-CSRF-TOKEN") != CSRF || r.URL.Query().Get("tx") != TransID || r.URL.Query().Get("p") != Policy {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("signInName") != p.Username || r.PostForm.Get("password") != p.Password || r.PostForm.Get("request_type") != "RESPONSE" {
		fmt.Fprint(w, `{"status":"400","errorCode":"AADB2C90225","message":"The username or password provided in the request are invalid."}`)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: transName, Value: "verified", Path: "/"})
	fmt.Fprint(w, `{"status":"200"}`)
}

func (p *Portal) handleConfirmed(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	q := r.URL.Query()
	cookie, err := r.Cookie(transName)
	if err != nil || cookie.Value != "verified" || q.Get("csrf_token") != CSRF || q.Get("tx") != TransID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, AutoFormPage(callbackPath, State, ClientInfo, Code))
}

func (p *Portal) handleCallback(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("state") != State || r.PostForm.Get("client_info") != ClientInfo || r.PostForm.Get("code") != Code {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: sessionName, Value: "authenticated", Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *Portal) handleExport(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	cookie, err := r.Cookie(sessionName)
	if err != nil || cookie.Value != "authenticated" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html><html><body>Please sign in</body></html>")
		return
	}
	if r.URL.Query().Get("mprn") != p.MPRN {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", p.ExportContentType)
	fmt.Fprint(w, p.Export)
}

// SettingsPage renders a login page embedding the given handshake values
func SettingsPage(transID, csrf string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<script type="text/javascript">
var SETTINGS = {"remoteResource":"https://example.invalid/unified","retryLimit":-1,"trimSpacesInPassword":true,"api":"CombinedSigninAndSignup","csrf":%q,"transId":%q,"pageViewId":"0b6c","suppressElementCss":false,"isPageViewIdSentWithHeader":false,"allowAutoFocusOnPasswordField":true,"pageMode":0,"config":{"showSignupLink":"True"},"hosts":{"tenant":"/tenant","policy":%q,"static":"https://example.invalid/static/"},"locale":{"lang":"en"}};
var CONTENT = {"signin_help": "Sign in; then continue"};
</script>
</head>
<body><div id="api"></div></body>
</html>`, csrf, transID, Policy)
}

// AutoFormPage renders the confirmation page with its auto-submitting form
func AutoFormPage(action, state, clientInfo, code string) string {
	return fmt.Sprintf(`<html><head><title>Working...</title></head>
<body>
<form method="POST" name="hiddenform" id="auto" action="%s">
<input type="hidden" name="state" value="%s" />
<input type="hidden" name="client_info" value="%s" />
<input type="hidden" name="code" value="%s" />
<noscript><p>Script is disabled. Click Submit to continue.</p><input type="submit" value="Submit" /></noscript>
</form>
<script language="javascript">window.setTimeout('document.forms[0].submit()', 0);</script>
</body></html>`, action, state, clientInfo, code)
}
