package challenge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	issuer     = "biokey"
	totpPeriod = 30
	totpSkew   = 1
)

// KeyStore persists the TOTP secret on the user's status.
type KeyStore interface {
	SetGoogleAuthKey(key string) error
}

// TOTP challenges the user for a code from an authenticator app. The secret is
// generated on first use and stored on the client status, which syncs it to
// the server.
type TOTP struct {
	status StatusSource
	keys   KeyStore
	now    func() time.Time

	mu          sync.Mutex
	initialized bool
	url         string
}

// NewTOTP builds a TOTP strategy.
func NewTOTP(status StatusSource, keys KeyStore) *TOTP {
	return &TOTP{status: status, keys: keys, now: time.Now}
}

var validateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func (t *TOTP) Init(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return nil
	}
	cur := t.status()
	if cur == nil || cur.Profile == nil {
		return fmt.Errorf("totp init: no profile: %w", ErrNotInitialized)
	}
	account := "Machine@" + cur.Profile.MachineID
	if cur.GoogleAuthKey != "" {
		t.url = provisioningURL(account, cur.GoogleAuthKey)
		t.initialized = true
		return nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("generate totp secret: %w", err)
	}
	if err := t.keys.SetGoogleAuthKey(key.Secret()); err != nil {
		return fmt.Errorf("store totp secret: %w", err)
	}
	t.url = key.URL()
	t.initialized = true
	return nil
}

func provisioningURL(account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", "6")
	v.Set("algorithm", "SHA1")
	u := url.URL{Scheme: "otpauth", Host: "totp", Path: "/" + issuer + ":" + account, RawQuery: v.Encode()}
	return u.String()
}

func (t *TOTP) IsInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// ProvisioningURL returns the otpauth:// URL for enrolling an authenticator
// app, or "" before Init.
func (t *TOTP) ProvisioningURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// IssueChallenge has nothing to send; the code is already on the user's device.
func (t *TOTP) IssueChallenge(context.Context) error {
	if !t.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

func (t *TOTP) CheckChallenge(attempt string) bool {
	attempt = strings.TrimSpace(attempt)
	if !t.IsInitialized() || !t.ValidateChallenge(attempt) {
		return false
	}
	cur := t.status()
	if cur == nil || cur.GoogleAuthKey == "" {
		return false
	}
	ok, err := totp.ValidateCustom(attempt, cur.GoogleAuthKey, t.now().UTC(), validateOpts)
	return err == nil && ok
}

func (t *TOTP) ValidateChallenge(attempt string) bool {
	return isCode(strings.TrimSpace(attempt), 6)
}

func (t *TOTP) ServerRepresentation() string { return NameTOTP }

func (t *TOTP) CustomInformationText() string {
	return "If you lost your 2FA device, please contact your administrator."
}
