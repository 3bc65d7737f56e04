package carrier

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// ErrNoBalance indicates the home payload carried no recognizable
// balance field. The upstream response shape drifts between app
// versions, so this is an expected condition, not a bug signal.
var ErrNoBalance = errors.New("no balance field in home payload")

// Credentials carries the per-account values attached to
// authenticated endpoints.
type Credentials struct {
	AccessToken string
	DeviceID    string
	Cookie      string
}

func (c Credentials) headers() map[string]string {
	h := map[string]string{
		"DeviceID": c.DeviceID,
		"Cookie":   c.Cookie,
	}
	if c.AccessToken != "" {
		h["Authorization"] = "Bearer " + c.AccessToken
	}
	return h
}

// LoginResponse is the (partially specified) body of the login POST.
type LoginResponse struct {
	NextURL string `json:"nextUrl"`
	Message string `json:"message"`
}

// TokenPair is the atomic result of every authentication exchange. A
// present access token means success; an absent one plus a message
// means the upstream rejected the exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Message      string `json:"message"`
}

// Valid reports whether the exchange produced a usable access token.
func (t TokenPair) Valid() bool {
	return t.AccessToken != ""
}

// LoginScreen issues the anonymous GET that seeds the session cookie.
func (c *Client) LoginScreen(ctx context.Context) (*Response, error) {
	return c.Execute(ctx, http.MethodGet, "/v1/login-screen?lang=ar", nil, nil)
}

// SendLoginCode submits the phone number and an empty CAPTCHA to
// trigger the one-time-code SMS. The raw response is returned next to
// the parsed form so challenge-extraction failures can surface full
// diagnostics.
func (c *Client) SendLoginCode(ctx context.Context, deviceID, cookie, phoneNumber string) (LoginResponse, *Response, error) {
	headers := Credentials{DeviceID: deviceID, Cookie: cookie}.headers()
	body := map[string]string{
		"username":    phoneNumber,
		"captchaCode": "",
	}

	resp, err := c.Execute(ctx, http.MethodPost, "/v1/login?lang=ar", headers, body)
	if err != nil {
		return LoginResponse{}, nil, err
	}

	var parsed LoginResponse
	// Tolerate schema drift; the caller checks NextURL rather than
	// trusting the decode.
	_ = resp.DecodeJSON(&parsed)
	return parsed, resp, nil
}

// ValidateSMSCode exchanges the challenge id, the shared API key and
// the user-supplied OTP for a token pair.
func (c *Client) ValidateSMSCode(ctx context.Context, cookie, deviceID, challengeID, otpCode string) (TokenPair, error) {
	headers := Credentials{DeviceID: deviceID, Cookie: cookie}.headers()
	body := map[string]string{
		"PID":      challengeID,
		"token":    c.apiKey,
		"passcode": otpCode,
	}

	resp, err := c.Execute(ctx, http.MethodPost, "/v1/smsvalidation?lang=ar", headers, body)
	if err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	_ = resp.DecodeJSON(&pair)
	return pair, nil
}

// RefreshTokens exchanges a refresh token for a fresh pair. This
// endpoint deliberately takes no Authorization header; it accepts only
// the refresh token in the body.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	body := map[string]string{
		"refreshToken": refreshToken,
	}

	resp, err := c.Execute(ctx, http.MethodPost, "/v1/refreshtoken?lang=ar", nil, body)
	if err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	_ = resp.DecodeJSON(&pair)
	return pair, nil
}

// Home fetches the authenticated account overview.
func (c *Client) Home(ctx context.Context, creds Credentials) (map[string]any, error) {
	resp, err := c.Execute(ctx, http.MethodGet, "/v2/home?lang=ar", creds.headers(), nil)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Balance extracts the main balance from the home payload. The field
// name drifted across app versions, so both spellings are checked.
func (c *Client) Balance(ctx context.Context, creds Credentials) (float64, error) {
	payload, err := c.Home(ctx, creds)
	if err != nil {
		return 0, err
	}
	balance, ok := extractBalance(payload)
	if !ok {
		return 0, ErrNoBalance
	}
	return balance, nil
}

// SubmitRecharge sends the voucher top-up targeting another subscriber
// number. The response body is returned raw: success and failure share
// status 200 often enough that classification belongs to the caller.
func (c *Client) SubmitRecharge(ctx context.Context, creds Credentials, voucherCode, targetNumber string) (string, error) {
	body := map[string]string{
		"voucherNumber": voucherCode,
		"msisdn":        targetNumber,
	}

	resp, err := c.Execute(ctx, http.MethodPost, "/v1/recharge?lang=ar", creds.headers(), body)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func extractBalance(payload map[string]any) (float64, bool) {
	for _, key := range []string{"mainBalance", "balance"} {
		if v, ok := payload[key]; ok {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
