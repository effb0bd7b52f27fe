package mikrowisp

import (
	"errors"
	"fmt"
)

var (
	ErrLoginFormMissing = errors.New("login form not found")
	ErrLoginRejected    = errors.New("login rejected")

	ErrElementNotFound        = errors.New("element not found")
	ErrNewTabTimeout          = errors.New("artifact tab never opened")
	ErrHttpStatus             = errors.New("unexpected http status")
	ErrStream                 = errors.New("artifact stream failed")
	ErrFileVerificationFailed = errors.New("artifact verification failed")
)

type AuthErrorKind int

const (
	AuthElementNotFound AuthErrorKind = iota
	AuthLoginRejected
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthElementNotFound:
		return "element-not-found"
	case AuthLoginRejected:
		return "login-rejected"
	}
	return fmt.Sprintf("auth-error(%d)", int(k))
}

// AuthError is fatal for a run.
type AuthError struct {
	Kind AuthErrorKind
	// URL is where the browser ended up.
	URL string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s (url %q): %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("auth: %s (url %q)", e.Kind, e.URL)
}

func (e *AuthError) Unwrap() []error {
	sentinel := ErrLoginRejected
	if e.Kind == AuthElementNotFound {
		sentinel = ErrLoginFormMissing
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// NavigationError is fatal for a run.
type NavigationError struct {
	Section Section
	URL     string
	Err     error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s (%s): %v", e.Section, e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// SelectorMismatch means the portal DOM does not have the shape the
// configured selectors expect.
type SelectorMismatch struct {
	What  string
	Found int
	Want  int
}

func (e *SelectorMismatch) Error() string {
	return fmt.Sprintf("selector mismatch: %s: found %d, want at least %d", e.What, e.Found, e.Want)
}

type DownloadErrorKind int

const (
	DownloadElementNotFound DownloadErrorKind = iota
	DownloadNewTabTimeout
	DownloadHttpError
	DownloadStreamError
	DownloadFileVerificationFailed
)

func (k DownloadErrorKind) String() string {
	switch k {
	case DownloadElementNotFound:
		return "element-not-found"
	case DownloadNewTabTimeout:
		return "new-tab-timeout"
	case DownloadHttpError:
		return "http-error"
	case DownloadStreamError:
		return "stream-error"
	case DownloadFileVerificationFailed:
		return "file-verification-failed"
	}
	return fmt.Sprintf("download-error(%d)", int(k))
}

var downloadSentinels = map[DownloadErrorKind]error{
	DownloadElementNotFound:        ErrElementNotFound,
	DownloadNewTabTimeout:          ErrNewTabTimeout,
	DownloadHttpError:              ErrHttpStatus,
	DownloadStreamError:            ErrStream,
	DownloadFileVerificationFailed: ErrFileVerificationFailed,
}

// DownloadError is recoverable: it fails one record, never the batch.
type DownloadError struct {
	Kind   DownloadErrorKind
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	msg := e.Kind.String()
	if e.Kind == DownloadHttpError {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DownloadError) Unwrap() []error {
	errs := []error{downloadSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func downloadError(kind DownloadErrorKind, err error) *DownloadError {
	return &DownloadError{Kind: kind, Err: err}
}
