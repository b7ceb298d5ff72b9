// Package api serves the signed integration endpoints used by external PHP
// systems.
package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/shared"
)

// Signature headers.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

const defaultMaxBody = 1 << 20

var (
	errMissingHeader = errors.New("missing signature header")
	errBodyTooLarge  = errors.New("body too large")
	errStale         = errors.New("timestamp outside allowed window")
	errMismatch      = errors.New("signature mismatch")
)

// VerifierConfig configures request signature checks.
type VerifierConfig struct {
	Secret string
	// MaxSkew bounds the distance between X-Timestamp and now. Zero disables
	// the check.
	MaxSkew time.Duration
	MaxBody int64
}

// Verifier authenticates requests signed with a shared secret. The signed
// message is api key + timestamp + raw body, digested with HMAC-SHA256 and
// sent as lowercase hex.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	maxBody int64
	logger  *slog.Logger
	now     func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Verifier{secret: []byte(cfg.Secret), maxSkew: cfg.MaxSkew, maxBody: maxBody, logger: logger, now: time.Now}
}

// Sign computes the signature for the given parts.
func Sign(secret, apiKey, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(apiKey))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature of r. On success the body is restored so
// handlers can read it again.
func (v *Verifier) Verify(r *http.Request) error {
	apiKey := r.Header.Get(HeaderAPIKey)
	signature := r.Header.Get(HeaderSignature)
	timestamp := r.Header.Get(HeaderTimestamp)
	if apiKey == "" || signature == "" || timestamp == "" {
		return errMissingHeader
	}

	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
		_ = r.Body.Close()
		if err != nil {
			return err
		}
		if int64(len(raw)) > v.maxBody {
			return errBodyTooLarge
		}
		body = raw
	}

	if v.maxSkew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return errStale
		}
		skew := v.now().Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.maxSkew {
			return errStale
		}
	}

	expected := Sign(string(v.secret), apiKey, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errMismatch
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return nil
}

// Middleware rejects unsigned or mis-signed requests with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			v.logger.Warn("api signature rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), "api:"+r.Header.Get(HeaderAPIKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
