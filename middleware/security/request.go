package security

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"security-gateway/middleware/security/application"
	"security-gateway/middleware/security/domain"
)

const (
	DefaultMaxBodyBytes int64 = 1 << 20
	emptyJSON                 = "{}"
)

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyJSON
	bodyForm
)

// inspected guarda o que foi lido da requisição: o snapshot bruto (para o
// classificador) e os valores decodificados (para a sanitização).
type inspected struct {
	snapshot domain.Snapshot
	kind     bodyKind
	raw      []byte
	json     any
	form     url.Values
	parsed   bool
}

func detectBodyKind(r *http.Request) bodyKind {
	if r.Body == nil || r.Body == http.NoBody {
		return bodyNone
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return bodyNone
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		return bodyJSON
	case mt == "application/x-www-form-urlencoded":
		return bodyForm
	default:
		return bodyNone
	}
}

// inspectRequest monta o snapshot. Nunca falha: corpo ilegível, malformado ou
// grande demais vira "{}" e a requisição segue com o corpo intacto.
func inspectRequest(r *http.Request, clientID string, maxBody int64) inspected {
	in := inspected{
		snapshot: domain.Snapshot{
			Method:    r.Method,
			URL:       decodedURI(r),
			Query:     serialize(flatten(r.URL.Query())),
			Body:      emptyJSON,
			UserAgent: r.Header.Get("User-Agent"),
			Referer:   r.Header.Get("Referer"),
			Host:      r.Host,
			Origin:    r.Header.Get("Origin"),
			ClientID:  clientID,
		},
		kind: detectBodyKind(r),
	}
	if in.kind == bodyNone {
		return in
	}

	buf, complete := readBody(r, maxBody)
	if !complete {
		return in
	}
	in.raw = buf

	switch in.kind {
	case bodyJSON:
		var v any
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return in
		}
		in.json = v
		in.parsed = true
		in.snapshot.Body = serialize(v)
	case bodyForm:
		form, err := url.ParseQuery(string(buf))
		if err != nil {
			return in
		}
		in.form = form
		in.parsed = true
		in.snapshot.Body = serialize(flatten(form))
	}
	return in
}

// readBody lê até max bytes e recoloca o corpo na requisição. complete=false
// quando o corpo passou do limite ou a leitura falhou; nesses casos o próximo
// handler ainda recebe o corpo inteiro.
func readBody(r *http.Request, max int64) ([]byte, bool) {
	if max <= 0 {
		max = DefaultMaxBodyBytes
	}
	orig := r.Body
	buf, err := io.ReadAll(io.LimitReader(orig, max+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), orig), Closer: orig}
	if err != nil || int64(len(buf)) > max {
		return nil, false
	}
	return buf, true
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sanitize reescreve query e corpo que seguem para o próximo handler.
// O snapshot já capturado não muda.
func sanitize(r *http.Request, in inspected, s *application.Sanitizer) (changed bool) {
	if q := r.URL.Query(); len(q) > 0 {
		if clean, ok := s.Query(q); ok {
			r.URL.RawQuery = clean.Encode()
			changed = true
		}
	}

	if !in.parsed {
		return changed
	}

	var body []byte
	switch in.kind {
	case bodyJSON:
		clean, ok := s.Value(in.json)
		if !ok {
			return changed
		}
		b, err := marshalNoEscape(clean)
		if err != nil {
			return changed
		}
		body = b
	case bodyForm:
		clean, ok := s.Query(in.form)
		if !ok {
			return changed
		}
		body = []byte(clean.Encode())
	default:
		return changed
	}

	orig := r.Body
	r.Body = readCloser{Reader: bytes.NewReader(body), Closer: orig}
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return true
}

func decodedURI(r *http.Request) string {
	uri := r.URL.RequestURI()
	if dec, err := url.PathUnescape(uri); err == nil {
		return dec
	}
	return uri
}

// flatten transforma url.Values em objeto: chave com um valor vira string.
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		out[k] = vs
	}
	return out
}

// serialize gera JSON sem escapar '<', '>' e '&' para o classificador ver o
// texto como o cliente mandou.
func serialize(v any) string {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return emptyJSON
	}
	if v == nil {
		return emptyJSON
	}
	b, err := marshalNoEscape(v)
	if err != nil {
		return emptyJSON
	}
	return string(b)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
