package smartmoving

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"moving-crm/internal/integrations/dto"
	"moving-crm/pkg/config"
)

const (
	providerName   = "smartmoving"
	customersPath  = "/api/customers"
	maxConnections = 10
)

type Options struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration
	PageBudget      time.Duration
	MaxAttempts     int
	RetryBase       time.Duration
	RetryCap        time.Duration
	RateLimitPerMin int
	// HTTPClient - если задан, используется вместо клиента по умолчанию.
	HTTPClient *http.Client
}

func OptionsFromConfig(cfg config.RemoteConfig) Options {
	return Options{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		RequestTimeout:  cfg.RequestTimeout,
		PageBudget:      cfg.PageBudget,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBase:       cfg.RetryBase,
		RetryCap:        cfg.RetryCap,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}
}

// Provider - типизированный клиент SmartMoving API с повторами.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	opts       Options
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Provider {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PageBudget <= 0 {
		opts.PageBudget = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = 5 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     maxConnections,
				MaxIdleConns:        maxConnections,
				MaxIdleConnsPerHost: maxConnections,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if opts.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RateLimitPerMin)), 1)
	}

	return &Provider{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		opts:       opts,
		limiter:    limiter,
		logger:     logger.Named("smartmoving_provider"),
	}
}

func (p *Provider) Name() string {
	return providerName
}

// ServiceDate кодирует дату как целое YYYYMMDD в её собственном часовом поясе.
func ServiceDate(date time.Time) int {
	return date.Year()*10000 + int(date.Month())*100 + date.Day()
}

func (p *Provider) ListCustomersByServiceDate(ctx context.Context, date time.Time, page, pageSize int) (dto.CustomerPage, error) {
	if page < 1 {
		return dto.CustomerPage{}, fmt.Errorf("номер страницы должен начинаться с 1, получено %d", page)
	}
	serviceDate := strconv.Itoa(ServiceDate(date))

	params := url.Values{}
	params.Set("FromServiceDate", serviceDate)
	params.Set("ToServiceDate", serviceDate)
	params.Set("IncludeOpportunityInfo", "true")
	params.Set("Page", strconv.Itoa(page))
	params.Set("PageSize", strconv.Itoa(pageSize))

	var resp dto.CustomersResponse
	if err := p.getJSON(ctx, customersPath, params, &resp); err != nil {
		return dto.CustomerPage{}, err
	}

	p.logger.Debug("Получена страница клиентов",
		zap.String("service_date", serviceDate),
		zap.Int("page", page),
		zap.Int("total_pages", resp.TotalPages),
		zap.Int("count", len(resp.PageResults)),
	)

	return dto.CustomerPage{
		Customers:  resp.PageResults,
		Page:       page,
		TotalPages: resp.TotalPages,
		LastPage:   resp.LastPage,
	}, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.ListCustomersByServiceDate(ctx, time.Now(), 1, 1)
	return err
}

func (p *Provider) backoff() retry.Backoff {
	b := retry.NewExponential(p.opts.RetryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(p.opts.RetryCap, b)
	return retry.WithMaxRetries(uint64(p.opts.MaxAttempts-1), b)
}
