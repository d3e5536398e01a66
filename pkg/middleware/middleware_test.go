package middleware

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cryptomid-go/pkg/transform"
)

type greet struct {
	Name string `json:"name"`
}

func testProcessor(t *testing.T) *transform.PayloadProcessor {
	t.Helper()
	key := transform.Key{
		Key: []byte("0123456789abcdef0123456789abcdef"),
		IV:  []byte("fedcba9876543210"),
	}
	p, err := transform.NewProcessorFromNames([]string{transform.NameAESCBC, transform.NameBase64}, key)
	if err != nil {
		t.Fatalf("NewProcessorFromNames: %v", err)
	}
	return p
}

func newTestEcho(p *transform.PayloadProcessor) *echo.Echo {
	e := echo.New()
	e.Use(Response(p), Request(p))
	e.POST("/hello", func(c echo.Context) error {
		var g greet
		if err := c.Bind(&g); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, greet{Name: g.Name + "!"})
	})
	e.GET("/hello/:name", func(c echo.Context) error {
		b, _ := json.Marshal(greet{Name: c.Param("name") + "!"})
		return c.Blob(http.StatusOK, ContentTypeJOSE, b)
	})
	e.GET("/hello-raw/:name", func(c echo.Context) error {
		return c.JSON(http.StatusOK, greet{Name: c.Param("name") + "!"})
	})
	return e
}

func TestGateMatches(t *testing.T) {
	g := NewGate(ContentTypeJOSE)
	cases := map[string]bool{
		"application/jose":                true,
		"Application/JOSE":                true,
		"application/jose; charset=utf-8": true,
		"application/jose;;":              true,
		"application/json":                false,
		"text/plain":                      false,
		"":                                false,
	}
	for ct, want := range cases {
		if got := g.Matches(ct); got != want {
			t.Errorf("Matches(%q) = %v, want %v", ct, got, want)
		}
	}
	if g.ClassifyRequest(ContentTypeJOSE) != ModeDecode {
		t.Error("transformed requests must decode")
	}
	if g.ClassifyResponse(ContentTypeJOSE) != ModeEncode {
		t.Error("transformed responses must encode")
	}
	if g.ClassifyRequest("application/json") != Passthrough {
		t.Error("plain requests must pass through")
	}
}

func TestRequestPassthroughKeepsBody(t *testing.T) {
	p := testProcessor(t)
	body := `{"name":"Peter"}`
	req := httptest.NewRequest(http.MethodPost, "/hello", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	origBody := req.Body

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen []byte
	h := Request(p)(func(c echo.Context) error {
		if c.Request() != req || c.Request().Body != origBody {
			t.Error("passthrough must hand the original request to the handler")
		}
		seen, _ = io.ReadAll(c.Request().Body)
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if string(seen) != body {
		t.Fatalf("handler saw %q, want %q", seen, body)
	}
}

func TestRequestDecodeRestoresOriginal(t *testing.T) {
	p := testProcessor(t)
	encoded, err := p.PrepareOutput([]byte(`{"name":"Peter"}`))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hello", bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen []byte
	var seenType string
	h := Request(p)(func(c echo.Context) error {
		if c.Request() == req {
			t.Error("handler should see a decoded view, not the original request")
		}
		seenType = c.Request().Header.Get(echo.HeaderContentType)
		seen, err = io.ReadAll(c.Request().Body)
		return err
	})
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if string(seen) != `{"name":"Peter"}` {
		t.Fatalf("handler saw %q", seen)
	}
	if seenType != echo.MIMEApplicationJSON {
		t.Fatalf("handler saw content type %q", seenType)
	}
	if c.Request() != req {
		t.Fatal("original request was not restored")
	}
	if req.Header.Get(echo.HeaderContentType) != ContentTypeJOSE {
		t.Fatal("original request headers were modified")
	}
}

func TestRequestHandlerErrorRestoresOriginal(t *testing.T) {
	p := testProcessor(t)
	encoded, err := p.PrepareOutput(bytes.Repeat([]byte("z"), 200000))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hello", bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)

	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	boom := errors.New("boom")

	h := RequestWithConfig(Config{Processor: p, Depth: 1, ChunkSize: 64})(func(c echo.Context) error {
		return boom
	})
	if err := h(c); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if c.Request() != req {
		t.Fatal("original request was not restored after a handler error")
	}
}

func TestRequestMalformedBodyIsBadRequest(t *testing.T) {
	e := newTestEcho(testProcessor(t))
	req := httptest.NewRequest(http.MethodPost, "/hello", strings.NewReader("A!!!"))
	req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequestBadPaddingIsBadRequest(t *testing.T) {
	e := newTestEcho(testProcessor(t))
	// Valid base64 of 16 zero bytes: one block, but not a valid ciphertext.
	req := httptest.NewRequest(http.MethodPost, "/hello", strings.NewReader("AAAAAAAAAAAAAAAAAAAAAA=="))
	req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

// appendZeroPadBlock adds one cipher block to a base64 ciphertext whose
// plaintext ends in a zero byte, which no PKCS#7 unpad accepts.
func appendZeroPadBlock(t *testing.T, encoded []byte) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	extra := make([]byte, aes.BlockSize)
	block.Encrypt(extra, raw[len(raw)-aes.BlockSize:])
	return []byte(base64.StdEncoding.EncodeToString(append(raw, extra...)))
}

func TestRequestLateErrorAfterHandlerSucceeded(t *testing.T) {
	cases := map[string]struct {
		names []string
		body  func(t *testing.T, p *transform.PayloadProcessor) []byte
	}{
		"trailing cipher block": {
			names: []string{transform.NameAESCBC, transform.NameBase64},
			body: func(t *testing.T, p *transform.PayloadProcessor) []byte {
				encoded, err := p.PrepareOutput([]byte(`{"name":"Peter"}`))
				if err != nil {
					t.Fatal(err)
				}
				return appendZeroPadBlock(t, encoded)
			},
		},
		"dangling base64": {
			names: []string{transform.NameBase64},
			body: func(t *testing.T, p *transform.PayloadProcessor) []byte {
				encoded, err := p.PrepareOutput([]byte(`{"name":"Peter"}`))
				if err != nil {
					t.Fatal(err)
				}
				return append(encoded, "QQ"...)
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := transform.NewProcessorFromNames(tc.names, transform.Key{
				Key: []byte("0123456789abcdef0123456789abcdef"),
				IV:  []byte("fedcba9876543210"),
			})
			if err != nil {
				t.Fatal(err)
			}
			e := echo.New()
			e.Use(Response(p), Request(p))
			var bound string
			e.POST("/hello", func(c echo.Context) error {
				var g greet
				if err := c.Bind(&g); err != nil {
					return err
				}
				bound = g.Name
				return c.JSON(http.StatusOK, greet{Name: g.Name + "!"})
			})

			req := httptest.NewRequest(http.MethodPost, "/hello", bytes.NewReader(tc.body(t, p)))
			req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if bound != "Peter" {
				t.Fatalf("handler should have consumed the valid prefix, bound %q", bound)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "Peter!") {
				t.Fatalf("handler output leaked into the error response: %s", rec.Body.String())
			}
		})
	}
}

func TestEndToEndPost(t *testing.T) {
	p := testProcessor(t)
	e := newTestEcho(p)
	encoded, err := p.PrepareOutput([]byte(`{"name":"Peter"}`))
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/hello", bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, ContentTypeJOSE)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var g greet
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("response is not plain JSON: %v (%q)", err, rec.Body.String())
	}
	if g.Name != "Peter!" {
		t.Fatalf("expected Peter!, got %q", g.Name)
	}
}

func TestResponseEncodesDeclaredBodies(t *testing.T) {
	p := testProcessor(t)
	e := newTestEcho(p)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello/Peter", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != ContentTypeJOSE {
		t.Fatalf("expected %s, got %q", ContentTypeJOSE, ct)
	}
	plain, err := p.ParseInput(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if string(plain) != `{"name":"Peter!"}` {
		t.Fatalf("decoded response %q", plain)
	}
}

func TestResponsePassthrough(t *testing.T) {
	e := newTestEcho(testProcessor(t))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello-raw/Peter", nil))

	if got := strings.TrimSpace(rec.Body.String()); got != `{"name":"Peter!"}` {
		t.Fatalf("expected raw JSON, got %q", got)
	}
}

func TestResponseWithoutBodyIsUntouched(t *testing.T) {
	p := testProcessor(t)
	e := echo.New()
	e.Use(Response(p))
	e.GET("/empty", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, ContentTypeJOSE)
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/empty", nil))
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("204 must stay empty, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "nope") {
		t.Fatalf("error responses must reach the client unchanged, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestResponseEmptyDeclaredBodyIsOneBlock(t *testing.T) {
	p := testProcessor(t)
	e := echo.New()
	e.Use(Response(p))
	e.GET("/blank", func(c echo.Context) error {
		return c.Blob(http.StatusOK, ContentTypeJOSE, nil)
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blank", nil))

	if rec.Body.Len() != 24 {
		t.Fatalf("expected one encoded block (24 chars), got %q", rec.Body.String())
	}
	plain, err := p.ParseInput(rec.Body.Bytes())
	if err != nil || len(plain) != 0 {
		t.Fatalf("expected an empty body back, got %q, %v", plain, err)
	}
}

func TestMiddlewareRequiresProcessor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic without a processor")
		}
	}()
	RequestWithConfig(Config{})
}
