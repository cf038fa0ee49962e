package smartmoving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	apperrors "moving-crm/pkg/errors"
)

const (
	maxBodySize    = 32 << 20
	maxBodyExcerpt = 512
)

// transientError - сбой, который имеет смысл повторить (сеть, 5xx, 429).
type transientError struct {
	statusCode int
	body       string
	err        error
}

func (e *transientError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (e *transientError) Unwrap() error { return e.err }

// getJSON выполняет GET с повторами и раскладывает ответ в out.
// Весь бюджет страницы, включая паузы между попытками, ограничен opts.PageBudget.
func (p *Provider) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := p.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.opts.PageBudget)
	defer cancel()

	attempt := 0
	var lastTransient *transientError

	err := retry.Do(budgetCtx, p.backoff(), func(ctx context.Context) error {
		attempt++
		body, err := p.fetch(ctx, endpoint)
		if err != nil {
			var te *transientError
			if errors.As(err, &te) {
				lastTransient = te
				p.logger.Warn("Временный сбой SmartMoving, повтор",
					zap.String("path", path),
					zap.Int("attempt", attempt),
					zap.Int("status", te.statusCode),
					zap.Error(err),
				)
				return retry.RetryableError(err)
			}
			return err
		}

		if err := json.Unmarshal(body, out); err != nil {
			return &apperrors.RemoteError{Kind: apperrors.ErrRemoteDecode, Body: excerpt(body), Err: err}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	// Отмена вызывающей стороной важнее исчерпанного бюджета.
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrCancelled, ctx.Err())
	}

	var te *transientError
	if errors.As(err, &te) || (budgetCtx.Err() != nil && lastTransient != nil) {
		if te == nil {
			te = lastTransient
		}
		return &apperrors.RemoteError{
			Kind:       apperrors.ErrRemoteUnavailable,
			StatusCode: te.statusCode,
			Body:       te.body,
			Err:        fmt.Errorf("после %d попыток: %w", attempt, te),
		}
	}
	if budgetCtx.Err() != nil {
		return &apperrors.RemoteError{Kind: apperrors.ErrRemoteUnavailable, Err: budgetCtx.Err()}
	}
	return err
}

func (p *Provider) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GET-запроса: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &transientError{statusCode: resp.StatusCode, err: fmt.Errorf("ошибка чтения тела ответа: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{statusCode: resp.StatusCode, body: excerpt(body)}
	default:
		return nil, &apperrors.RemoteError{
			Kind:       apperrors.ErrRemoteRejected,
			StatusCode: resp.StatusCode,
			Body:       excerpt(body),
		}
	}
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyExcerpt {
		cut := maxBodyExcerpt
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "…"
	}
	return s
}
