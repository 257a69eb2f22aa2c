package server

import (
	"context"
	"net/http"
	"time"
)

// Data carries one request through the filter chain.
type Data struct {
	Ctx            context.Context
	Req            *http.Request
	ResponseWriter http.ResponseWriter

	// Method is the effective method after X-HTTP-Method-Override.
	Method    string
	RequestID string
	ClientIP  string
}

func NewData(ctx context.Context, w http.ResponseWriter, req *http.Request) *Data {
	return &Data{
		Ctx:            ctx,
		Req:            req,
		ResponseWriter: w,
		Method:         req.Method,
	}
}

type Response interface {
	IsEnd() bool
}

type Next struct{}

func (n Next) IsEnd() bool {
	return false
}

// End stops the chain. The filter has already written the response.
type End struct{}

func (e End) IsEnd() bool {
	return true
}

type Filter interface {
	Run(d *Data) (Response, error)
	Type() string
}

type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}

// Run executes filters in order. It returns the type of the filter that
// stopped the chain, or "" when every filter passed.
func (c *Chain) Run(d *Data) (string, error) {
	for _, filter := range c.filters {
		t := time.Now()
		resp, err := filter.Run(d)
		filterDuration.WithLabelValues(filter.Type()).Observe(time.Since(t).Seconds())

		if d.Ctx.Err() != nil {
			filterErrors.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), d.Ctx.Err()
		}
		if err != nil {
			filterErrors.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), err
		}
		if resp.IsEnd() {
			return filter.Type(), nil
		}
	}
	return "", nil
}
