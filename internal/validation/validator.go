package validation

import (
	"errors"
	"regexp"
	"strings"
)

// Validation limits.
const (
	// MaxEmailLength is the maximum total length of an address (RFC 5321).
	MaxEmailLength = 254

	// MaxLocalPartLength is the maximum length of the part before '@'.
	MaxLocalPartLength = 64
)

// Rejection codes surfaced to clients.
const (
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeDisposableEmail   = "DISPOSABLE_EMAIL"
	CodeInvalidPostalCode = "INVALID_POSTAL_CODE"
	CodeOutOfServiceArea  = "OUT_OF_SERVICE_AREA"
)

// Validation errors.
var (
	ErrInvalidEmail      = errors.New("email address is invalid")
	ErrDisposableEmail   = errors.New("disposable email addresses are not accepted")
	ErrInvalidPostalCode = errors.New("postal code is invalid")
	ErrOutOfServiceArea  = errors.New("postal code is outside the service area")
)

// Code maps a validation error to its client-facing code.
// Returns "" for nil or unknown errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return CodeInvalidEmail
	case errors.Is(err, ErrDisposableEmail):
		return CodeDisposableEmail
	case errors.Is(err, ErrInvalidPostalCode):
		return CodeInvalidPostalCode
	case errors.Is(err, ErrOutOfServiceArea):
		return CodeOutOfServiceArea
	default:
		return ""
	}
}

// emailPattern matches a lower-cased address with at least one dot in the domain.
var emailPattern = regexp.MustCompile(
	`^[a-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`,
)

// postalPattern matches a Canadian postal code (A1A 1A1) after upper-casing.
// D, F, I, O, Q and U never appear; W and Z never lead.
var postalPattern = regexp.MustCompile(`^([ABCEGHJ-NPRSTVXY][0-9][ABCEGHJ-NPRSTV-Z])[ -]?([0-9][ABCEGHJ-NPRSTV-Z][0-9])$`)

// Input is the subset of a signup that the validator inspects.
type Input struct {
	Email      string
	PostalCode string
}

// Result carries the normalized values of an accepted input.
type Result struct {
	Email      string
	LocalPart  string
	Domain     string
	PostalCode string
}

// Validator applies syntax, disposable-domain and service-area checks.
// It performs no I/O and is safe for concurrent use.
type Validator struct {
	disposable  map[string]bool
	servicedPfx []string
}

// New creates a Validator from a policy.
func New(p *Policy) *Validator {
	v := &Validator{
		disposable: make(map[string]bool, len(p.DisposableDomains)),
	}
	for _, d := range p.DisposableDomains {
		v.disposable[strings.ToLower(d)] = true
	}
	v.servicedPfx = append(v.servicedPfx, p.ServiceAreaPrefixes...)
	return v
}

// Validate checks the input in order: email syntax, disposable domain,
// postal code format, service area. The postal checks only run when a
// postal code is supplied.
func (v *Validator) Validate(in Input) (Result, error) {
	email, local, domain, err := NormalizeEmail(in.Email)
	if err != nil {
		return Result{}, err
	}

	if v.IsDisposable(domain) {
		return Result{}, ErrDisposableEmail
	}

	res := Result{Email: email, LocalPart: local, Domain: domain}

	if strings.TrimSpace(in.PostalCode) == "" {
		return res, nil
	}

	postal, err := NormalizePostalCode(in.PostalCode)
	if err != nil {
		return Result{}, err
	}
	if !v.InServiceArea(postal) {
		return Result{}, ErrOutOfServiceArea
	}
	res.PostalCode = postal

	return res, nil
}

// NormalizeEmail lower-cases and syntax-checks an address.
// It returns the normalized address split into local part and domain.
func NormalizeEmail(raw string) (email, local, domain string, err error) {
	email = strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > MaxEmailLength {
		return "", "", "", ErrInvalidEmail
	}
	if !emailPattern.MatchString(email) {
		return "", "", "", ErrInvalidEmail
	}

	at := strings.LastIndexByte(email, '@')
	local, domain = email[:at], email[at+1:]

	if len(local) > MaxLocalPartLength ||
		strings.HasPrefix(local, ".") ||
		strings.HasSuffix(local, ".") ||
		strings.Contains(local, "..") {
		return "", "", "", ErrInvalidEmail
	}

	return email, local, domain, nil
}

// IsDisposable reports whether domain, or any parent of it, is in the
// disposable block-set. Comparison is case-insensitive.
func (v *Validator) IsDisposable(domain string) bool {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	for domain != "" {
		if v.disposable[domain] {
			return true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			return false
		}
		domain = domain[dot+1:]
	}
	return false
}

// NormalizePostalCode validates a Canadian postal code and returns it in
// the canonical "A1A 1A1" form.
func NormalizePostalCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	m := postalPattern.FindStringSubmatch(code)
	if m == nil {
		return "", ErrInvalidPostalCode
	}
	return m[1] + " " + m[2], nil
}

// InServiceArea reports whether a normalized postal code starts with one of
// the served prefixes. An empty allow-set serves everywhere.
func (v *Validator) InServiceArea(postal string) bool {
	if len(v.servicedPfx) == 0 {
		return true
	}
	compact := strings.ReplaceAll(postal, " ", "")
	for _, p := range v.servicedPfx {
		if strings.HasPrefix(compact, p) {
			return true
		}
	}
	return false
}
