package esb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb/esbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testExport = "MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time\r\n" +
	"10012345678,000000000012345678,1.234,Active Import Interval (kW),21-07-2023 14:30\r\n" +
	"10012345678,000000000012345678,0.876,Active Import Interval (kW),21-07-2023 15:00\r\n"

func newTestPortal(t *testing.T) *esbtest.Portal {
	t.Helper()
	portal := esbtest.NewPortal("user@example.com", "secret", "10012345678", testExport)
	t.Cleanup(portal.Close)
	return portal
}

func testEndpoints(portal *esbtest.Portal) Endpoints {
	return Endpoints{
		PortalURL: portal.PortalURL(),
		LoginURL:  portal.LoginURL(),
		Policy:    esbtest.Policy,
		ExportURL: portal.ExportURL(),
	}
}

func testCredentials() Credentials {
	return Credentials{Username: "user@example.com", Password: "secret", MPRN: "10012345678"}
}

func TestHTMLParserSettings(t *testing.T) {
	page := []byte(esbtest.SettingsPage("StateProperties=abc123", "csrf-xyz"))

	settings, err := HTMLParser{}.Settings(page)
	require.NoError(t, err)
	require.Equal(t, "StateProperties=abc123", settings.TransID)
	require.Equal(t, "csrf-xyz", settings.CSRF)
	require.Equal(t, esbtest.Policy, settings.Hosts.Policy)
	require.Equal(t, "/tenant", settings.Hosts.Tenant)
}

func TestHTMLParserSettingsErrors(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		wantErr error
	}{
		{
			name:    "no settings",
			page:    "<html><body>maintenance</body></html>",
			wantErr: ErrSettingsNotFound,
		},
		{
			name: "truncated object",
			page: `<script>var SETTINGS = {"transId":"abc",`,
		},
		{
			name: "missing csrf",
			page: `<script>var SETTINGS = {"transId":"abc"};</script>`,
		},
		{
			name: "missing transId",
			page: `<script>var SETTINGS = {"csrf":"abc"};</script>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HTMLParser{}.Settings([]byte(tt.page))
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTMLParserAutoForm(t *testing.T) {
	page := []byte(esbtest.AutoFormPage("https://myaccount.esbnetworks.ie/signin-oidc", "st", "ci", "cd"))

	form, err := HTMLParser{}.AutoForm(page)
	require.NoError(t, err)
	require.Equal(t, "https://myaccount.esbnetworks.ie/signin-oidc", form.Action)
	require.Equal(t, "st", form.State)
	require.Equal(t, "ci", form.ClientInfo)
	require.Equal(t, "cd", form.Code)

	values := form.Values()
	require.Equal(t, "st", values.Get("state"))
	require.Equal(t, "ci", values.Get("client_info"))
	require.Equal(t, "cd", values.Get("code"))
}

func TestHTMLParserAutoFormErrors(t *testing.T) {
	_, err := HTMLParser{}.AutoForm([]byte(`<html><form id="other" action="/x"></form></html>`))
	require.ErrorIs(t, err, ErrAutoFormNotFound)

	_, err = HTMLParser{}.AutoForm([]byte(`<form id="auto" action="/x"><input name="state" value="s"></form>`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "client_info")
}

func TestEndpointURLs(t *testing.T) {
	e := Endpoints{LoginURL: "https://login.example/tenant/"}.withDefaults()
	require.Equal(t, DefaultPortalURL, e.PortalURL)
	require.Equal(t, DefaultExportURL, e.ExportURL)

	require.Equal(t,
		"https://login.example/tenant/B2C_1A_signup_signin/SelfAsserted?tx=StateProperties=abc&p=B2C_1A_signup_signin",
		e.selfAssertedURL("StateProperties=abc", DefaultPolicy))

	confirmed := e.confirmedURL(&Settings{TransID: "StateProperties=abc", CSRF: "tok"}, DefaultPolicy)
	require.True(t, strings.HasPrefix(confirmed,
		"https://login.example/tenant/B2C_1A_signup_signin/api/CombinedSigninAndSignup/confirmed?"))
	require.Contains(t, confirmed, "rememberMe=false")
	require.Contains(t, confirmed, "csrf_token=tok")

	start := time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)
	require.Equal(t, DefaultExportURL+"?mprn=10012345678&startDate=2023-07-21", e.exportURL("10012345678", start))
}

func TestLoginAndFetch(t *testing.T) {
	portal := newTestPortal(t)
	endpoints := testEndpoints(portal)
	logger := zap.NewNop()

	auth := NewAuthenticator(Config{Endpoints: endpoints, UserAgent: DefaultUserAgent}, logger)
	session, err := auth.Login(context.Background(), testCredentials())
	require.NoError(t, err)
	defer session.Close()

	require.Equal(t, 1, portal.Hits("/tenant/"+esbtest.Policy+"/SelfAsserted"))
	require.Equal(t, 1, portal.Hits("/signin-oidc"))

	fetcher := NewFetcher(endpoints, logger)
	start := time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)
	lines, err := fetcher.Fetch(context.Background(), session, "10012345678", start)
	require.NoError(t, err)
	require.Equal(t, "2023-07-21", portal.StartDate())
	require.Equal(t, []string{
		"MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time",
		"10012345678,000000000012345678,1.234,Active Import Interval (kW),21-07-2023 14:30",
		"10012345678,000000000012345678,0.876,Active Import Interval (kW),21-07-2023 15:00",
	}, lines)
}

func TestLoginRejectedCredentials(t *testing.T) {
	portal := newTestPortal(t)

	auth := NewAuthenticator(Config{Endpoints: testEndpoints(portal)}, zap.NewNop())
	creds := testCredentials()
	creds.Password = "wrong"

	_, err := auth.Login(context.Background(), creds)
	require.ErrorIs(t, err, ErrCredentialsRejected)
	require.Contains(t, err.Error(), "AADB2C90225")
	require.Zero(t, portal.Hits("/tenant/"+esbtest.Policy+"/api/CombinedSigninAndSignup/confirmed"))
	require.Zero(t, portal.Hits("/DataHub/DownloadHdf"))
}

func TestLoginMissingSettings(t *testing.T) {
	portal := newTestPortal(t)
	portal.LoginPage = "<html><body>Service unavailable</body></html>"

	auth := NewAuthenticator(Config{Endpoints: testEndpoints(portal)}, zap.NewNop())
	_, err := auth.Login(context.Background(), testCredentials())
	require.ErrorIs(t, err, ErrLoginPage)
	require.ErrorIs(t, err, ErrSettingsNotFound)
	require.Zero(t, portal.Hits("/tenant/"+esbtest.Policy+"/SelfAsserted"))
}

func TestLoginCancelledContext(t *testing.T) {
	portal := newTestPortal(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	auth := NewAuthenticator(Config{Endpoints: testEndpoints(portal)}, zap.NewNop())
	_, err := auth.Login(ctx, testCredentials())
	require.ErrorIs(t, err, ErrLoginPage)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name        string
		export      string
		contentType string
		wantErr     error
	}{
		{name: "empty body", export: "", contentType: "text/csv", wantErr: ErrEmptyExport},
		{name: "whitespace only", export: "\r\n\r\n", contentType: "text/csv", wantErr: ErrEmptyExport},
		{name: "bom only", export: "\xef\xbb\xbf", contentType: "text/csv", wantErr: ErrEmptyExport},
		{name: "html content type", export: "MPRN\n", contentType: "text/html; charset=utf-8", wantErr: ErrNotCSV},
		{name: "html body", export: "<!DOCTYPE html><html></html>", contentType: "application/octet-stream", wantErr: ErrNotCSV},
		{name: "invalid utf-8", export: "MPRN\n\xff\xfe\n", contentType: "text/csv", wantErr: ErrNotCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := newTestPortal(t)
			portal.Export = tt.export
			portal.ExportContentType = tt.contentType
			endpoints := testEndpoints(portal)

			session, err := NewAuthenticator(Config{Endpoints: endpoints}, zap.NewNop()).
				Login(context.Background(), testCredentials())
			require.NoError(t, err)

			_, err = NewFetcher(endpoints, zap.NewNop()).
				Fetch(context.Background(), session, "10012345678", time.Now())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchWithoutLogin(t *testing.T) {
	portal := newTestPortal(t)

	session, err := newSession(nil, time.Second*5, "")
	require.NoError(t, err)

	_, err = NewFetcher(testEndpoints(portal), zap.NewNop()).
		Fetch(context.Background(), session, "10012345678", time.Now())
	require.ErrorIs(t, err, ErrNotCSV)

	_, err = NewFetcher(testEndpoints(portal), zap.NewNop()).
		Fetch(context.Background(), nil, "10012345678", time.Now())
	require.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "a\nb", want: []string{"a", "b"}},
		{in: "a\r\nb\r\n", want: []string{"a", "b"}},
		{in: "a\n\n\n", want: []string{"a"}},
		{in: "a\n\nb", want: []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, splitLines(tt.in), "input %q", tt.in)
	}
}

func TestSample(t *testing.T) {
	require.Equal(t, "short", sample([]byte("short")))

	long := strings.Repeat("x", 300)
	got := sample([]byte(long))
	require.Len(t, got, 203)
	require.True(t, strings.HasSuffix(got, "..."))
}
