package httpapi

import (
	"errors"
	"io"
	"net/http"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type errorEnvelope struct {
	Error chessdto.DomainError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := s.domainError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		s.log.Debug("request_rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched when allowEmpty.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return crerr.Wrap(domain.ErrInvalidInput, "request body too large")
		}
		return crerr.Wrap(domain.ErrInvalidInput, "read request body")
	}
	if len(raw) == 0 {
		if allowEmpty {
			return nil
		}
		return crerr.Wrap(domain.ErrInvalidInput, "request body required")
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return crerr.Wrapf(domain.ErrInvalidInput, "decode request body: %v", err)
	}
	return nil
}
