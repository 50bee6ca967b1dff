package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"warehouse-miniapp/internal/domain"
	"warehouse-miniapp/internal/domain/model"
)

// InitData is the verified launch payload of a Mini App.
type InitData struct {
	User       model.User
	AuthDate   time.Time
	QueryID    string
	StartParam string
	// Raw is forwarded unchanged to the warehouse backend.
	Raw string
}

// secretKey derives the WebApp signing key from the bot token.
func secretKey(botToken string) []byte {
	m := hmac.New(sha256.New, []byte("WebAppData"))
	m.Write([]byte(botToken))
	return m.Sum(nil)
}

// dataCheckString joins every field except hash as sorted key=value lines.
func dataCheckString(vals url.Values) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+vals.Get(k))
	}
	return strings.Join(lines, "\n")
}

// Sign computes the hash Telegram attaches to vals. It is used by tests and
// the dev login.
func Sign(vals url.Values, botToken string) string {
	m := hmac.New(sha256.New, secretKey(botToken))
	m.Write([]byte(dataCheckString(vals)))
	return hex.EncodeToString(m.Sum(nil))
}

// ValidateInitData checks the signature and age of raw and returns the
// user it carries. A maxAge of zero disables the age check.
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty init data", domain.ErrAuth)
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed init data", domain.ErrAuth)
	}
	got := vals.Get("hash")
	if got == "" {
		return nil, fmt.Errorf("%w: hash missing", domain.ErrAuth)
	}
	want := Sign(vals, botToken)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, fmt.Errorf("%w: signature mismatch", domain.ErrAuth)
	}

	sec, err := strconv.ParseInt(vals.Get("auth_date"), 10, 64)
	if err != nil || sec <= 0 {
		return nil, fmt.Errorf("%w: auth_date missing", domain.ErrAuth)
	}
	authDate := time.Unix(sec, 0)
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return nil, fmt.Errorf("%w: init data expired", domain.ErrAuth)
	}

	var u model.User
	if err := json.Unmarshal([]byte(vals.Get("user")), &u); err != nil || u.IsZero() {
		return nil, fmt.Errorf("%w: user missing", domain.ErrAuth)
	}
	return &InitData{
		User:       u,
		AuthDate:   authDate,
		QueryID:    vals.Get("query_id"),
		StartParam: vals.Get("start_param"),
		Raw:        raw,
	}, nil
}
