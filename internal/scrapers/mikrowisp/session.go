package mikrowisp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"wispfetch/internal/assert"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
)

const (
	report_session_login  = "session.login"
	report_session_logout = "session.logout"
)

// Session logs the main page into the portal admin panel.
type Session struct {
	page     browser.Page
	portal   PortalConfig
	creds    Credentials
	timeouts Timeouts
	tel      telemetry.API
}

func NewSession(page browser.Page, portal PortalConfig, creds Credentials, timeouts Timeouts, tel telemetry.API) *Session {
	assert.NotNil(page, "page")
	assert.NotNil(tel, "telemetry")
	return &Session{
		page:     page,
		portal:   portal,
		creds:    creds,
		timeouts: timeouts,
		tel:      telemetry.NewScopedAPI("mikrowisp", tel),
	}
}

func (s *Session) currentURL(ctx context.Context) string {
	url, err := s.page.URL(ctx)
	if err != nil {
		return ""
	}
	return url
}

// Login fills the login form and confirms the browser landed on the admin
// panel. Every failure is an *AuthError.
func (s *Session) Login(ctx context.Context) error {
	s.tel.ReportInfo("logging in", s.portal.LoginURL)

	navCtx, cancel := context.WithTimeout(ctx, s.timeouts.Navigation)
	err := s.page.Navigate(navCtx, s.portal.LoginURL)
	cancel()
	if err != nil {
		s.tel.ReportBroken(report_session_login, fmt.Errorf("open login page: %w", err))
		return &AuthError{Kind: AuthElementNotFound, URL: s.portal.LoginURL, Err: err}
	}

	for _, selector := range []string{s.portal.Selectors.Username, s.portal.Selectors.Password} {
		waitCtx, cancel := context.WithTimeout(ctx, s.timeouts.Element)
		err := s.page.WaitSelector(waitCtx, selector)
		cancel()
		if err != nil {
			s.tel.ReportBroken(report_session_login, fmt.Errorf("wait for %s: %w", selector, err))
			return &AuthError{Kind: AuthElementNotFound, URL: s.currentURL(ctx), Err: err}
		}
	}

	err = s.page.Type(ctx, s.portal.Selectors.Username, s.creds.Username)
	if err == nil {
		err = s.page.Type(ctx, s.portal.Selectors.Password, s.creds.Password)
	}
	if err != nil {
		return &AuthError{Kind: AuthElementNotFound, URL: s.currentURL(ctx), Err: err}
	}

	_, clicked, err := clickControl(ctx, s.page, Control{
		Role:   `button, input[type="submit"], a`,
		Labels: s.portal.Vocabulary.Submit,
	})
	if err != nil {
		return &AuthError{Kind: AuthElementNotFound, URL: s.currentURL(ctx), Err: err}
	}
	if !clicked {
		s.tel.ReportWarning(report_session_login, "submit control not found, submitting with enter")
		err = s.page.Press(ctx, s.portal.Selectors.Password, browser.KeyEnter)
		if err != nil {
			return &AuthError{Kind: AuthElementNotFound, URL: s.currentURL(ctx), Err: err}
		}
	}

	if err := chrono.Sleep(ctx, s.timeouts.LoginSettle); err != nil {
		return err
	}

	// the login page itself lives under the admin area
	url := s.currentURL(ctx)
	if !s.IsAuthenticated(ctx) {
		s.tel.ReportBroken(report_session_login, errors.New("not redirected to the admin panel"), url)
		return &AuthError{Kind: AuthLoginRejected, URL: url}
	}

	s.tel.ReportInfo("logged in", url)
	return nil
}

// IsAuthenticated only inspects the current URL, it never contacts the server.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	url := s.currentURL(ctx)
	return strings.Contains(url, s.portal.AuthenticatedMarker) &&
		!strings.Contains(url, s.portal.LoginMarker)
}

// Logout clicks whatever control reads like a logout. It never fails the run.
func (s *Session) Logout(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Element)
	defer cancel()

	loc, clicked, err := clickControl(ctx, s.page, Control{
		Role:   `a, button, li, span`,
		Labels: s.portal.Vocabulary.Logout,
	})
	if err != nil {
		s.tel.ReportWarning(report_session_logout, err)
		return false
	}
	if !clicked {
		s.tel.ReportDebug("logout control not found")
		return false
	}
	s.tel.ReportInfo("logged out", loc.Text)
	return true
}
