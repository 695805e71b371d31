package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"marketguard-backend/internal/models"
)

// Observer is satisfied by *security.Ingestor.
type Observer interface {
	Observe(ctx context.Context, o models.RequestOutcome) *models.SecurityEvent
}

// Observe reports every completed request to the ingestion point. The
// first sampleLimit+1 bytes of the body are buffered for classification
// and replayed to the handler. Observation runs after the response has
// been written and never affects it.
func Observe(observer Observer, service string, sampleLimit int64, proxies *ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sample []byte
			if r.Body != nil && r.Body != http.NoBody {
				sample, _ = io.ReadAll(io.LimitReader(r.Body, sampleLimit+1))
				r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(sample), r.Body), Closer: r.Body}
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			size := int64(len(sample))
			if r.ContentLength > size {
				size = r.ContentLength
			}

			outcome := models.RequestOutcome{
				V:        1,
				TS:       time.Now().UnixMilli(),
				Service:  service,
				Status:   status,
				IP:       proxies.ClientIP(r),
				Path:     r.URL.Path,
				Method:   r.Method,
				BodySize: size,
				Body:     string(sample),
				Query:    r.URL.RawQuery,
				Headers: map[string]string{
					"user-agent": r.UserAgent(),
					"referer":    r.Referer(),
				},
			}
			go observer.Observe(context.WithoutCancel(r.Context()), outcome)
		})
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}
