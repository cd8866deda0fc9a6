package security

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"security-gateway/middleware/security/domain"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter string `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeThreatBlocked não revela qual padrão casou.
func writeThreatBlocked(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorBody{
		Error:   "Forbidden",
		Message: "Request blocked by security policy",
	})
}

func writeRateLimited(w http.ResponseWriter, dec domain.Decision, now time.Time) {
	retry := dec.RetryAfter(now)
	w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))

	msg := "Too many requests from this client, please try again later."
	switch dec.Tier {
	case domain.TierAuth:
		msg = "Too many authentication attempts, please try again later."
	case domain.TierUpload:
		msg = "Too many uploads from this client, please try again later."
	}
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      "Too Many Requests",
		Message:    msg,
		RetryAfter: humanizeDuration(retry),
	})
}

func writeServiceUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "Service Unavailable",
		Message: "Server is busy, please try again later.",
	})
}

func setRateHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
	}
}

// humanizeDuration arredonda para cima na maior unidade que couber
// ("15 minutes", "1 hour", "30 seconds").
func humanizeDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return plural(ceilDiv(d, time.Hour), "hour")
	case d >= time.Minute:
		return plural(ceilDiv(d, time.Minute), "minute")
	default:
		return plural(max(ceilDiv(d, time.Second), 1), "second")
	}
}

func ceilDiv(d, unit time.Duration) int64 {
	return int64((d + unit - 1) / unit)
}

func plural(n int64, unit string) string {
	s := strconv.FormatInt(n, 10) + " " + unit
	if n != 1 {
		s += "s"
	}
	return s
}

// statusRecorder captura o status final para o Settle do rate limit.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status assume 200 quando o handler não escreveu nada.
func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}
